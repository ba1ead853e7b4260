package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	NotificationType string
	Status           string
)

const (
	TypePurchase           NotificationType = "purchase"
	TypeReferralRegistered NotificationType = "referral_registered"
	TypeReferralPurchase   NotificationType = "referral_purchase"
	TypeIncomeCredited     NotificationType = "income_credited"

	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Priority: lower = more urgent.
const (
	PriorityHigh   = 1
	PriorityNormal = 5
	PriorityLow    = 10
)

type typeSpec struct {
	priority int
	enabled  func(Preferences) bool
}

var typeTable = map[NotificationType]typeSpec{
	TypePurchase: {
		priority: PriorityHigh,
		enabled:  func(p Preferences) bool { return p.PurchaseEnabled },
	},
	TypeIncomeCredited: {
		priority: PriorityHigh,
		enabled:  func(p Preferences) bool { return p.IncomeCreditedEnabled },
	},
	TypeReferralPurchase: {
		priority: PriorityNormal,
		enabled:  func(p Preferences) bool { return p.ReferralPurchaseEnabled },
	},
	TypeReferralRegistered: {
		priority: PriorityLow,
		enabled:  func(p Preferences) bool { return p.ReferralRegisteredEnabled },
	},
}

// NotificationTypes returns the closed set of types in a stable order.
func NotificationTypes() []NotificationType {
	return []NotificationType{TypePurchase, TypeReferralRegistered, TypeReferralPurchase, TypeIncomeCredited}
}

func (t NotificationType) IsValid() bool {
	_, ok := typeTable[t]
	return ok
}

// Priority returns the queue priority of the type, PriorityNormal for unknown types.
func (t NotificationType) Priority() int {
	if ts, ok := typeTable[t]; ok {
		return ts.priority
	}
	return PriorityNormal
}

func (t NotificationType) String() string { return string(t) }

func ParseNotificationType(s string) (NotificationType, error) {
	t := NotificationType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown notification type %q: %w", s, ErrInvalidData)
	}
	return t, nil
}

var transitions = map[Status][]Status{
	StatusPending: {StatusSending, StatusCancelled, StatusFailed, StatusPending},
	StatusSending: {StatusSent, StatusFailed, StatusPending, StatusSending, StatusCancelled},
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether a record in status s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Sources lists the statuses a record may be in to move to s.
func (s Status) Sources() []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusSending} {
		if from.CanTransition(s) {
			out = append(out, from)
		}
	}
	return out
}

func (s Status) String() string { return string(s) }

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown status %q: %w", s, ErrInvalidData)
	}
	return st, nil
}

type Notification struct {
	ID                 uuid.UUID        `json:"id"`
	UserID             string           `json:"user_id"`
	Type               NotificationType `json:"type"`
	Content            json.RawMessage  `json:"content"`
	Status             Status           `json:"status"`
	CreatedAt          time.Time        `json:"created_at"`
	SentAt             *time.Time       `json:"sent_at,omitempty"`
	TransportMessageID string           `json:"transport_message_id,omitempty"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	RetryCount         int              `json:"retry_count"`
}

// StatusUpdate carries the optional fields of a status change. Nil fields are left untouched.
type StatusUpdate struct {
	SentAt             *time.Time
	TransportMessageID *string
	ErrorMessage       *string
	RetryCount         *int
}

// Validate checks that a terminal status comes with the fields it requires.
func (u StatusUpdate) Validate(status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("status %q: %w", status, ErrInvalidData)
	}
	switch status {
	case StatusSent:
		if u.SentAt == nil || u.TransportMessageID == nil || *u.TransportMessageID == "" {
			return fmt.Errorf("sent requires sent_at and transport_message_id: %w", ErrInvalidData)
		}
	case StatusFailed, StatusCancelled:
		if u.ErrorMessage == nil || *u.ErrorMessage == "" {
			return fmt.Errorf("%s requires error_message: %w", status, ErrInvalidData)
		}
	}
	if u.RetryCount != nil && *u.RetryCount < 0 {
		return fmt.Errorf("retry_count must be >= 0: %w", ErrInvalidData)
	}
	return nil
}

func WithError(msg string) StatusUpdate {
	return StatusUpdate{ErrorMessage: &msg}
}

func Delivered(at time.Time, messageID string) StatusUpdate {
	return StatusUpdate{SentAt: &at, TransportMessageID: &messageID}
}

// Retried bumps the retry counter and records the error that caused it.
func Retried(retryCount int, msg string) StatusUpdate {
	return StatusUpdate{RetryCount: &retryCount, ErrorMessage: &msg}
}
