package service

import (
	"errors"
	"strings"
	"time"

	"chatrelay/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxContentLen  = 2000
	maxAttachments = 5
	minPollOptions = 2
)

// MessageService owns all message persistence: creation, reads, content
// edits, removal and receipt initialization.
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

type AttachmentInput struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Mime     string `json:"mime"`
	Size     int64  `json:"size"`
}

type AttachmentDTO struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Mime     string `json:"mime,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type PollOptionDTO struct {
	Label string   `json:"label"`
	Votes []string `json:"votes"`
}

type ReceiptDTO struct {
	UserID    string               `json:"user_id"`
	Status    models.ReceiptStatus `json:"status"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// MessageDTO is the wire shape of a message, shared by the REST handlers and
// the websocket events.
type MessageDTO struct {
	ID          string             `json:"id"`
	AuthorID    string             `json:"author_id"`
	Kind        models.MessageKind `json:"kind"`
	Content     string             `json:"content,omitempty"`
	Attachments []AttachmentDTO    `json:"attachments"`
	PollOptions []PollOptionDTO    `json:"poll_options,omitempty"`
	Receipts    []ReceiptDTO       `json:"receipts"`
	Edited      bool               `json:"edited"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Create persists a new message with empty receipts. Poll messages must
// carry at least two options; non-poll messages must carry none.
func (s *MessageService) Create(authorID string, kind models.MessageKind, content string, attachments []AttachmentInput, pollOptions []string) (*MessageDTO, error) {
	authorID = strings.TrimSpace(authorID)
	if authorID == "" || !kind.Valid() {
		return nil, ErrValidation
	}
	if len(content) > maxContentLen {
		return nil, ErrValidation
	}
	if len(attachments) > maxAttachments {
		return nil, ErrValidation
	}
	if kind == models.KindPoll {
		if len(pollOptions) < minPollOptions {
			return nil, ErrValidation
		}
		for _, label := range pollOptions {
			if strings.TrimSpace(label) == "" {
				return nil, ErrValidation
			}
		}
	} else if len(pollOptions) > 0 {
		return nil, ErrValidation
	}

	msg := models.Message{
		ID:       uuid.NewString(),
		AuthorID: authorID,
		Kind:     kind,
		Content:  content,
	}
	for i, a := range attachments {
		if strings.TrimSpace(a.URL) == "" {
			return nil, ErrValidation
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Position: i,
			URL:      a.URL,
			Filename: a.Filename,
			Mime:     a.Mime,
			Size:     a.Size,
		})
	}
	for i, label := range pollOptions {
		msg.PollOptions = append(msg.PollOptions, models.PollOption{Idx: i, Label: label})
	}

	if err := s.db.Create(&msg).Error; err != nil {
		return nil, err
	}
	return s.FindByID(msg.ID)
}

// FindByID loads a message with attachments, poll options (vote sets folded
// in) and receipts.
func (s *MessageService) FindByID(id string) (*MessageDTO, error) {
	var msg models.Message
	err := s.preloaded().First(&msg, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	votes, err := s.votesByMessage([]string{msg.ID})
	if err != nil {
		return nil, err
	}
	dto := toDTO(msg, votes[msg.ID])
	return &dto, nil
}

// FindRecent returns the newest messages first. Used for the per-connection
// backlog on websocket connect.
func (s *MessageService) FindRecent(limit int) ([]MessageDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var msgs []models.Message
	if err := s.preloaded().Order("created_at desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	return s.fold(msgs)
}

type PageOptions struct {
	Page     int
	Limit    int
	AuthorID string
	Kind     models.MessageKind
	SortAsc  bool
}

type Page struct {
	Items      []MessageDTO `json:"items"`
	Total      int64        `json:"total"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
	TotalPages int          `json:"total_pages"`
}

// FindPaginated is a pure read over the store; page starts at 1, limit is
// clamped to [1,100].
func (s *MessageService) FindPaginated(opts PageOptions) (*Page, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	limit := opts.Limit
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	filtered := func(q *gorm.DB) *gorm.DB {
		if opts.AuthorID != "" {
			q = q.Where("author_id = ?", opts.AuthorID)
		}
		if opts.Kind != "" {
			q = q.Where("kind = ?", opts.Kind)
		}
		return q
	}

	var total int64
	if err := filtered(s.db.Model(&models.Message{})).Count(&total).Error; err != nil {
		return nil, err
	}

	order := "created_at desc"
	if opts.SortAsc {
		order = "created_at asc"
	}
	var msgs []models.Message
	err := filtered(s.preloaded()).Order(order).Offset((page - 1) * limit).Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	items, err := s.fold(msgs)
	if err != nil {
		return nil, err
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &Page{Items: items, Total: total, Page: page, Limit: limit, TotalPages: totalPages}, nil
}

// Update patches the text content and marks the message edited.
func (s *MessageService) Update(id, content string) (*MessageDTO, error) {
	if len(content) > maxContentLen {
		return nil, ErrValidation
	}
	res := s.db.Model(&models.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{"content": content, "edited": true})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.FindByID(id)
}

// Remove deletes the message. Attachments, options and receipts go with it
// via FK cascade; vote rows are keyed by message id only and are cleared
// explicitly.
func (s *MessageService) Remove(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", id).Delete(&models.PollVote{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Message{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// InitReceipts replaces the entire receipt list with fresh SENT entries.
// The replace is deliberate contract: calling it twice discards prior
// delivery progress.
func (s *MessageService) InitReceipts(messageID string, recipientIDs []string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Message{}).Where("id = ?", messageID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		if err := tx.Where("message_id = ?", messageID).Delete(&models.Receipt{}).Error; err != nil {
			return err
		}
		now := time.Now()
		seen := make(map[string]struct{}, len(recipientIDs))
		receipts := make([]models.Receipt, 0, len(recipientIDs))
		for _, uid := range recipientIDs {
			uid = strings.TrimSpace(uid)
			if uid == "" {
				continue
			}
			if _, ok := seen[uid]; ok {
				continue
			}
			seen[uid] = struct{}{}
			receipts = append(receipts, models.Receipt{
				MessageID: messageID,
				UserID:    uid,
				Status:    models.StatusSent,
				UpdatedAt: now,
			})
		}
		if len(receipts) == 0 {
			return nil
		}
		return tx.Create(&receipts).Error
	})
}

// Participants returns the author plus every receipt holder, used to scope
// receipt and poll broadcasts to the message's audience.
func (s *MessageService) Participants(messageID string) ([]string, error) {
	var msg models.Message
	if err := s.db.Select("id", "author_id").First(&msg, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var userIDs []string
	if err := s.db.Model(&models.Receipt{}).Where("message_id = ?", messageID).Pluck("user_id", &userIDs).Error; err != nil {
		return nil, err
	}
	out := append([]string{msg.AuthorID}, userIDs...)
	return out, nil
}

func (s *MessageService) preloaded() *gorm.DB {
	return s.db.
		Preload("Attachments", func(q *gorm.DB) *gorm.DB { return q.Order("position asc") }).
		Preload("PollOptions", func(q *gorm.DB) *gorm.DB { return q.Order("idx asc") }).
		Preload("Receipts")
}

func (s *MessageService) votesByMessage(messageIDs []string) (map[string][]models.PollVote, error) {
	out := make(map[string][]models.PollVote, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	var votes []models.PollVote
	if err := s.db.Where("message_id IN ?", messageIDs).Find(&votes).Error; err != nil {
		return nil, err
	}
	for _, v := range votes {
		out[v.MessageID] = append(out[v.MessageID], v)
	}
	return out, nil
}

func (s *MessageService) fold(msgs []models.Message) ([]MessageDTO, error) {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Kind == models.KindPoll {
			ids = append(ids, m.ID)
		}
	}
	votes, err := s.votesByMessage(ids)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toDTO(m, votes[m.ID]))
	}
	return out, nil
}

func toDTO(m models.Message, votes []models.PollVote) MessageDTO {
	dto := MessageDTO{
		ID:          m.ID,
		AuthorID:    m.AuthorID,
		Kind:        m.Kind,
		Content:     m.Content,
		Attachments: make([]AttachmentDTO, 0, len(m.Attachments)),
		Receipts:    make([]ReceiptDTO, 0, len(m.Receipts)),
		Edited:      m.Edited,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	for _, a := range m.Attachments {
		dto.Attachments = append(dto.Attachments, AttachmentDTO{URL: a.URL, Filename: a.Filename, Mime: a.Mime, Size: a.Size})
	}
	for _, r := range m.Receipts {
		dto.Receipts = append(dto.Receipts, ReceiptDTO{UserID: r.UserID, Status: r.Status, UpdatedAt: r.UpdatedAt})
	}
	if len(m.PollOptions) > 0 {
		dto.PollOptions = foldOptions(m.PollOptions, votes)
	}
	return dto
}

func foldOptions(options []models.PollOption, votes []models.PollVote) []PollOptionDTO {
	out := make([]PollOptionDTO, len(options))
	for i, opt := range options {
		out[i] = PollOptionDTO{Label: opt.Label, Votes: []string{}}
	}
	for _, v := range votes {
		if v.OptionIdx >= 0 && v.OptionIdx < len(out) {
			out[v.OptionIdx].Votes = append(out[v.OptionIdx].Votes, v.VoterID)
		}
	}
	return out
}
