package entity

import "errors"

var (
	ErrDataNotFound          = errors.New("data not found")
	ErrConflictingData       = errors.New("conflicting data")
	ErrInvalidData           = errors.New("invalid data")
	ErrNotificationNotFound  = errors.New("notification not found")
	ErrNotificationFinalized = errors.New("notification already in terminal state")
	ErrTemplateNotFound      = errors.New("template not found")
	ErrInvalidContent        = errors.New("invalid notification content")
	ErrQueueUnavailable      = errors.New("delivery queue unavailable")
	ErrServiceDisabled       = errors.New("notification service disabled")
	ErrConfigPathNotSet      = errors.New("config path not set")
)
