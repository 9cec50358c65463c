package service

import "errors"

// Service-level errors; handlers and the ws gateway map these to HTTP status
// codes or structured error acks.
var (
	ErrNotFound   = errors.New("message not found")
	ErrValidation = errors.New("invalid message payload")
	ErrNotPoll    = errors.New("message is not a poll")
	ErrBadOption  = errors.New("poll option index out of range")
	ErrConflict   = errors.New("concurrent update conflict")
)
