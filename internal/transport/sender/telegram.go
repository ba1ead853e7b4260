package sender

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Peakviker/RefSeller/internal/entity"
)

// Bot is the part of tgbotapi.BotAPI the sender needs.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewBotAPI подключается к Bot API и проверяет токен. Каждый запрос ограничен
// timeout: библиотека не принимает context, и без таймаута зависший запрос держал бы задание.
func NewBotAPI(token string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	client := &http.Client{Timeout: timeout}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("sender.NewBotAPI: %w", err)
	}
	return bot, nil
}

// TelegramSender отправляет сообщения пользователям через Telegram.
type TelegramSender struct {
	bot Bot
	log *zap.Logger
}

func NewTelegramSender(bot Bot, log *zap.Logger) *TelegramSender {
	if log == nil {
		log = zap.NewNop()
	}
	if api, ok := bot.(*tgbotapi.BotAPI); ok {
		log.Info("telegram sender initialized", zap.String("bot_username", api.Self.UserName))
	}
	return &TelegramSender{bot: bot, log: log}
}

// Send отправляет Markdown-сообщение в чат пользователя и возвращает id сообщения.
// Ошибки Bot API возвращаются уже классифицированными (*entity.DeliveryFailure).
func (s *TelegramSender) Send(ctx context.Context, userID, text string) (string, error) {
	const op = "sender.TelegramSender.Send"

	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "", &entity.DeliveryFailure{
			Kind: entity.FailureNotFound,
			Err:  fmt.Errorf("%s: chat id %q: %w", op, userID, entity.ErrInvalidData),
		}
	}
	if err = ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	s.log.Debug("sending telegram message", zap.String("op", op), zap.Int64("chat_id", chatID))

	sent, err := s.bot.Send(msg)
	if err != nil {
		failure := Classify(err)
		s.log.Warn("telegram send failed",
			zap.String("op", op),
			zap.Int64("chat_id", chatID),
			zap.Stringer("kind", failure.Kind),
			zap.Error(err),
		)
		return "", fmt.Errorf("%s: %w", op, failure)
	}

	return strconv.Itoa(sent.MessageID), nil
}
