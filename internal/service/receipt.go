package service

import (
	"errors"
	"time"

	"chatrelay/internal/metrics"
	"chatrelay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReceiptService tracks per-(message, recipient) delivery state on top of
// the message store.
type ReceiptService struct {
	db *gorm.DB
}

func NewReceiptService(db *gorm.DB) *ReceiptService {
	return &ReceiptService{db: db}
}

// SetStatus upserts the recipient's receipt in a single atomic statement
// keyed on (message_id, user_id). Two concurrent calls for the same
// recipient can never produce a duplicate entry. Any status may overwrite
// any other; transitions are not monotonic.
func (s *ReceiptService) SetStatus(messageID, userID string, status models.ReceiptStatus) error {
	if messageID == "" || userID == "" || !status.Valid() {
		return ErrValidation
	}
	var msg models.Message
	if err := s.db.Select("id").First(&msg, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	now := time.Now()
	rec := models.Receipt{MessageID: messageID, UserID: userID, Status: status, UpdatedAt: now}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"status": status, "updated_at": now}),
	}).Create(&rec).Error
	if err != nil {
		return err
	}
	metrics.ReceiptUpdatesTotal.Inc()
	return nil
}

func (s *ReceiptService) MarkDelivered(messageID, userID string) error {
	return s.SetStatus(messageID, userID, models.StatusDelivered)
}

func (s *ReceiptService) MarkSeen(messageID, userID string) error {
	return s.SetStatus(messageID, userID, models.StatusSeen)
}
