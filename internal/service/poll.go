package service

import (
	"errors"
	"time"

	"chatrelay/internal/metrics"
	"chatrelay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// voteAttempts bounds the optimistic retry loop; after that the caller gets
// ErrConflict instead of retrying forever.
const voteAttempts = 3

var errStaleVersion = errors.New("stale message version")

// PollService enforces the single-active-vote-per-voter invariant and
// updates tallies.
type PollService struct {
	db *gorm.DB
}

func NewPollService(db *gorm.DB) *PollService {
	return &PollService{db: db}
}

// Vote records voterID's vote for the option at optionIndex, displacing any
// previous vote by the same voter. Each attempt runs in a transaction guarded
// by the message's version counter: the version bump must match the version
// read, otherwise a concurrent writer won and the attempt is retried against
// fresh state.
func (s *PollService) Vote(messageID, voterID string, optionIndex int) ([]PollOptionDTO, error) {
	if messageID == "" || voterID == "" {
		return nil, ErrValidation
	}
	for attempt := 0; attempt < voteAttempts; attempt++ {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			// Lock the message row for the duration of the remove+insert so
			// concurrent voters serialize; the version check below catches
			// any writer that does not take the lock.
			var msg models.Message
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Select("id", "kind", "version").First(&msg, "id = ?", messageID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			if msg.Kind != models.KindPoll {
				return ErrNotPoll
			}
			var optCount int64
			if err := tx.Model(&models.PollOption{}).Where("message_id = ?", messageID).Count(&optCount).Error; err != nil {
				return err
			}
			if optionIndex < 0 || int64(optionIndex) >= optCount {
				return ErrBadOption
			}
			res := tx.Model(&models.Message{}).
				Where("id = ? AND version = ?", messageID, msg.Version).
				Updates(map[string]interface{}{"version": msg.Version + 1, "updated_at": time.Now()})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errStaleVersion
			}
			// The unique (message_id, voter_id) row is the voter's single
			// active vote; moving it is one conditional write.
			vote := models.PollVote{MessageID: messageID, VoterID: voterID, OptionIdx: optionIndex}
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "message_id"}, {Name: "voter_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{"option_idx": optionIndex}),
			}).Create(&vote).Error
		})
		if err == nil {
			metrics.PollVotesTotal.Inc()
			return s.Options(messageID)
		}
		if errors.Is(err, errStaleVersion) {
			metrics.PollVoteConflictsTotal.Inc()
			continue
		}
		return nil, err
	}
	return nil, ErrConflict
}

// Options returns the current option list with vote sets folded in.
func (s *PollService) Options(messageID string) ([]PollOptionDTO, error) {
	var options []models.PollOption
	if err := s.db.Where("message_id = ?", messageID).Order("idx asc").Find(&options).Error; err != nil {
		return nil, err
	}
	if len(options) == 0 {
		return nil, ErrNotFound
	}
	var votes []models.PollVote
	if err := s.db.Where("message_id = ?", messageID).Find(&votes).Error; err != nil {
		return nil, err
	}
	return foldOptions(options, votes), nil
}
