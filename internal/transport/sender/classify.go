package sender

import (
	"errors"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Peakviker/RefSeller/internal/entity"
)

// Classify maps a Bot API error: 403 is a block, 400 mentioning "not found" is
// a vanished chat, 429 is throttling with an optional retry-after, anything
// else is transient.
func Classify(err error) *entity.DeliveryFailure {
	var already *entity.DeliveryFailure
	if errors.As(err, &already) {
		return already
	}

	f := &entity.DeliveryFailure{Kind: entity.FailureTransient, Err: err}

	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return f
	}

	f.Code = apiErr.Code
	switch {
	case apiErr.Code == http.StatusForbidden:
		f.Kind = entity.FailureBlocked
	case apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "not found"):
		f.Kind = entity.FailureNotFound
	case apiErr.Code == http.StatusTooManyRequests:
		f.Kind = entity.FailureThrottled
		f.RetryAfter = time.Duration(apiErr.RetryAfter) * time.Second
	}
	return f
}
