package models

import "time"

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVoice MessageKind = "voice"
	KindPoll  MessageKind = "poll"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVoice, KindPoll:
		return true
	}
	return false
}

type ReceiptStatus string

const (
	StatusSent      ReceiptStatus = "SENT"
	StatusDelivered ReceiptStatus = "DELIVERED"
	StatusSeen      ReceiptStatus = "SEEN"
)

func (s ReceiptStatus) Valid() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusSeen:
		return true
	}
	return false
}

// Message is the durable chat record. Version is the optimistic token for
// poll writes: a writer must present the version it read, and an update that
// matches zero rows means a concurrent writer got there first.
type Message struct {
	ID          string       `gorm:"primaryKey;size:36"`
	AuthorID    string       `gorm:"size:64;index;not null"`
	Kind        MessageKind  `gorm:"size:16;not null"`
	Content     string       `gorm:"size:2000"`
	Edited      bool         `gorm:"not null;default:false"`
	Version     int64        `gorm:"not null;default:0"`
	Attachments []Attachment `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
	PollOptions []PollOption `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
	Receipts    []Receipt    `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Attachment struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID string `gorm:"size:36;index;not null"`
	Position  int    `gorm:"not null"`
	URL       string `gorm:"size:1024;not null"`
	Filename  string `gorm:"size:256"`
	Mime      string `gorm:"size:128"`
	Size      int64
}

type PollOption struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID string `gorm:"size:36;uniqueIndex:idx_option_msg_idx;not null"`
	Idx       int    `gorm:"uniqueIndex:idx_option_msg_idx;not null"`
	Label     string `gorm:"size:256;not null"`
}

// PollVote keys a voter's single active vote; the unique index enforces
// "at most one option per voter per message" at the storage layer.
type PollVote struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID string `gorm:"size:36;uniqueIndex:idx_vote_msg_voter;not null"`
	VoterID   string `gorm:"size:64;uniqueIndex:idx_vote_msg_voter;not null"`
	OptionIdx int    `gorm:"not null"`
}

// Receipt holds one recipient's delivery state. The unique index on
// (message_id, user_id) makes the status write a true upsert instead of a
// racy update-then-append pair.
type Receipt struct {
	ID        uint          `gorm:"primaryKey"`
	MessageID string        `gorm:"size:36;uniqueIndex:idx_receipt_msg_user;not null"`
	UserID    string        `gorm:"size:64;uniqueIndex:idx_receipt_msg_user;not null"`
	Status    ReceiptStatus `gorm:"size:16;not null"`
	UpdatedAt time.Time
}
