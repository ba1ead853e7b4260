package sender_test

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/internal/transport/sender"
)

type botMock struct {
	mock.Mock
}

func (m *botMock) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func apiError(code int, message string, retryAfter int) error {
	return &tgbotapi.Error{
		Code:               code,
		Message:            message,
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: retryAfter},
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		kind       entity.FailureKind
		retryAfter time.Duration
	}{
		{"blocked", apiError(403, "Forbidden: bot was blocked by the user", 0), entity.FailureBlocked, 0},
		{"chat not found", apiError(400, "Bad Request: chat not found", 0), entity.FailureNotFound, 0},
		{"other bad request", apiError(400, "Bad Request: can't parse entities", 0), entity.FailureTransient, 0},
		{"throttled", apiError(429, "Too Many Requests: retry after 30", 30), entity.FailureThrottled, 30 * time.Second},
		{"throttled without hint", apiError(429, "Too Many Requests", 0), entity.FailureThrottled, 0},
		{"server error", apiError(502, "Bad Gateway", 0), entity.FailureTransient, 0},
		{"network", errors.New("dial tcp: i/o timeout"), entity.FailureTransient, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := sender.Classify(tt.err)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.retryAfter, f.RetryAfter)
			assert.ErrorIs(t, f, tt.err)
		})
	}
}

func TestClassify_WrappedAndIdempotent(t *testing.T) {
	t.Parallel()

	wrapped := errors.Join(errors.New("context"), apiError(403, "Forbidden", 0))
	f := sender.Classify(wrapped)
	assert.Equal(t, entity.FailureBlocked, f.Kind)
	assert.Equal(t, 403, f.Code)

	again := sender.Classify(errors.Join(errors.New("outer"), f))
	assert.Same(t, f, again)
}

func TestTelegramSender_Send(t *testing.T) {
	t.Parallel()

	bot := &botMock{}
	bot.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 42 && msg.Text == "*hi*" &&
			msg.ParseMode == tgbotapi.ModeMarkdown && msg.DisableWebPagePreview
	})).Return(tgbotapi.Message{MessageID: 777}, nil).Once()

	s := sender.NewTelegramSender(bot, nil)
	id, err := s.Send(context.Background(), "42", "*hi*")
	require.NoError(t, err)
	assert.Equal(t, "777", id)
	bot.AssertExpectations(t)
}

func TestTelegramSender_SendClassifiesErrors(t *testing.T) {
	t.Parallel()

	bot := &botMock{}
	bot.On("Send", mock.Anything).Return(tgbotapi.Message{}, apiError(429, "Too Many Requests", 5)).Once()

	s := sender.NewTelegramSender(bot, nil)
	_, err := s.Send(context.Background(), "42", "text")
	require.Error(t, err)

	var f *entity.DeliveryFailure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, entity.FailureThrottled, f.Kind)
	assert.Equal(t, 5*time.Second, f.RetryAfter)
}

func TestTelegramSender_SendInvalidChatID(t *testing.T) {
	t.Parallel()

	bot := &botMock{}
	s := sender.NewTelegramSender(bot, nil)

	_, err := s.Send(context.Background(), "not-a-number", "text")
	assert.ErrorIs(t, err, entity.ErrInvalidData)
	assert.Equal(t, entity.FailureNotFound, sender.Classify(err).Kind)
	bot.AssertNotCalled(t, "Send", mock.Anything)
}

type dialerMock struct {
	sent []*gomail.Message
	err  error
}

func (d *dialerMock) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

func TestEmailAlerter_Alert(t *testing.T) {
	t.Parallel()

	d := &dialerMock{}
	a := sender.NewEmailAlerterWithDialer(d, "notifier@refseller.io", []string{"ops@refseller.io"}, nil)

	require.NoError(t, a.Alert(context.Background(), "delivery failed", "notification x"))
	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"ops@refseller.io"}, d.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"delivery failed"}, d.sent[0].GetHeader("Subject"))

	d.err = errors.New("smtp down")
	assert.ErrorIs(t, a.Alert(context.Background(), "s", "b"), d.err)
}

func TestEmailAlerter_NoRecipients(t *testing.T) {
	t.Parallel()

	d := &dialerMock{}
	a := sender.NewEmailAlerterWithDialer(d, "notifier@refseller.io", nil, nil)

	require.NoError(t, a.Alert(context.Background(), "s", "b"))
	assert.Empty(t, d.sent)
}
