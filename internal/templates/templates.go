package templates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/Peakviker/RefSeller/internal/entity"
)

const (
	DateLayout      = "02.01.2006, 15:04:05"
	DefaultUserName = "Пользователь"
	Placeholder     = "—"
	DefaultCurrency = "RUB"
)

const purchaseText = `
🎉 *Покупка успешно завершена!*

💰 Сумма: {{ amount .Amount }} {{ currency .Currency }}
📦 Товар: {{ text .ProductName }}
📅 {{ date .PurchaseDate }}

Спасибо за покупку! 🙏
`

const referralRegisteredText = `
👥 *Новый реферал зарегистрировался!*

{{ user .ReferralUsername .ReferralFirstName }}
📅 {{ date .RegistrationDate }}

Ваших рефералов: *{{ .TotalReferrals }}* 🎯
`

const referralPurchaseText = `
🛍 *Ваш реферал совершил покупку!*

Реферал: {{ user .ReferralUsername "" }}
💰 Сумма покупки: {{ amount .PurchaseAmount }} {{ currency .Currency }}

💎 Ваше вознаграждение: *{{ amount .ExpectedReward }} {{ currency .Currency }}* ({{ amount .RewardPercentage }}%)
`

const incomeCreditedText = `
💰 *Доход начислен!*

➕ Начислено: *{{ amount .Amount }} {{ currency .Currency }}*
От реферала: {{ user .FromReferralUsername "" }}
Уровень: {{ or .ReferralLevel "—" }}

💵 Ваш баланс: *{{ amount .NewBalance }} {{ currency .Currency }}*
`

type entry struct {
	text    string
	content func() any
}

var registry = map[entity.NotificationType]entry{
	entity.TypePurchase: {
		text:    purchaseText,
		content: func() any { return &entity.PurchaseContent{} },
	},
	entity.TypeReferralRegistered: {
		text:    referralRegisteredText,
		content: func() any { return &entity.ReferralRegisteredContent{} },
	},
	entity.TypeReferralPurchase: {
		text:    referralPurchaseText,
		content: func() any { return &entity.ReferralPurchaseContent{} },
	},
	entity.TypeIncomeCredited: {
		text:    incomeCreditedText,
		content: func() any { return &entity.IncomeCreditedContent{} },
	},
}

type Renderer struct {
	loc       *time.Location
	templates map[entity.NotificationType]*template.Template
}

type Option func(*Renderer)

// Location задает часовой пояс для дат.
func Location(loc *time.Location) Option {
	return func(r *Renderer) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func New(opts ...Option) (*Renderer, error) {
	r := &Renderer{
		loc:       time.UTC,
		templates: make(map[entity.NotificationType]*template.Template, len(registry)),
	}
	for _, opt := range opts {
		opt(r)
	}

	funcs := template.FuncMap{
		"amount":   FormatAmount,
		"currency": currency,
		"text":     text,
		"user":     user,
		"date":     r.date,
	}
	for t, e := range registry {
		tmpl, err := template.New(string(t)).Funcs(funcs).Parse(e.text)
		if err != nil {
			return nil, fmt.Errorf("templates.New: parse %s: %w", t, err)
		}
		r.templates[t] = tmpl
	}
	return r, nil
}

// Render форматирует сообщение уведомления. Отсутствующие необязательные поля
// выводятся значениями по умолчанию. Ошибка только при неизвестном типе или битом JSON.
func (r *Renderer) Render(t entity.NotificationType, content json.RawMessage) (string, error) {
	const op = "templates.Renderer.Render"

	tmpl, ok := r.templates[t]
	if !ok {
		return "", fmt.Errorf("%s: %q: %w", op, t, entity.ErrTemplateNotFound)
	}

	data := registry[t].content()
	if len(bytes.TrimSpace(content)) > 0 {
		if err := json.Unmarshal(content, data); err != nil {
			return "", fmt.Errorf("%s: %w: %w", op, entity.ErrInvalidContent, err)
		}
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%s: execute: %w", op, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// FormatAmount печатает число без хвостовых нулей: 990, 1234.5.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (r *Renderer) date(t time.Time) string {
	if t.IsZero() {
		return Placeholder
	}
	return t.In(r.loc).Format(DateLayout)
}

func currency(c string) string {
	if c == "" {
		return DefaultCurrency
	}
	return EscapeMarkdown(c)
}

func text(s string) string {
	if s == "" {
		return Placeholder
	}
	return EscapeMarkdown(s)
}

// user выбирает @username, затем запасное имя, затем нейтральное значение.
func user(username, fallback string) string {
	switch {
	case username != "":
		return "@" + EscapeMarkdown(username)
	case fallback != "":
		return EscapeMarkdown(fallback)
	default:
		return DefaultUserName
	}
}

var markdownEscaper = strings.NewReplacer(
	`_`, `\_`,
	`*`, `\*`,
	"`", "\\`",
	`[`, `\[`,
)

// EscapeMarkdown экранирует символы разметки старого Markdown в Telegram.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
