package templates_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/internal/templates"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func newRenderer(t *testing.T) *templates.Renderer {
	t.Helper()
	r, err := templates.New(templates.Location(time.FixedZone("MSK", 3*60*60)))
	require.NoError(t, err)
	return r
}

func TestRender_Purchase(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	got, err := r.Render(entity.TypePurchase, mustJSON(t, entity.PurchaseContent{
		Amount:       990,
		Currency:     "RUB",
		ProductName:  "Курс по Go",
		PurchaseDate: time.Date(2025, 3, 1, 7, 30, 0, 0, time.UTC),
	}))
	require.NoError(t, err)

	want := "🎉 *Покупка успешно завершена!*\n\n" +
		"💰 Сумма: 990 RUB\n" +
		"📦 Товар: Курс по Go\n" +
		"📅 01.03.2025, 10:30:00\n\n" +
		"Спасибо за покупку! 🙏"
	assert.Equal(t, want, got)
}

func TestRender_ReferralRegistered(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)

	withUsername, err := r.Render(entity.TypeReferralRegistered, mustJSON(t, entity.ReferralRegisteredContent{
		ReferralUsername:  "ivan_petrov",
		ReferralFirstName: "Иван",
		TotalReferrals:    3,
	}))
	require.NoError(t, err)
	assert.Contains(t, withUsername, `@ivan\_petrov`)
	assert.Contains(t, withUsername, "Ваших рефералов: *3* 🎯")
	assert.Contains(t, withUsername, "📅 —")

	withName, err := r.Render(entity.TypeReferralRegistered, mustJSON(t, entity.ReferralRegisteredContent{
		ReferralFirstName: "Иван",
	}))
	require.NoError(t, err)
	assert.Contains(t, withName, "\nИван\n")
}

func TestRender_ReferralPurchase(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	got, err := r.Render(entity.TypeReferralPurchase, mustJSON(t, entity.ReferralPurchaseContent{
		PurchaseAmount:   1500,
		Currency:         "RUB",
		ExpectedReward:   450,
		RewardPercentage: 30,
	}))
	require.NoError(t, err)

	assert.Contains(t, got, "Реферал: Пользователь")
	assert.Contains(t, got, "💰 Сумма покупки: 1500 RUB")
	assert.Contains(t, got, "💎 Ваше вознаграждение: *450 RUB* (30%)")
}

func TestRender_IncomeCredited(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	got, err := r.Render(entity.TypeIncomeCredited, mustJSON(t, entity.IncomeCreditedContent{
		Amount:               45.5,
		Currency:             "RUB",
		FromReferralUsername: "anna",
		ReferralLevel:        2,
		NewBalance:           1045.5,
	}))
	require.NoError(t, err)

	want := "💰 *Доход начислен!*\n\n" +
		"➕ Начислено: *45.5 RUB*\n" +
		"От реферала: @anna\n" +
		"Уровень: 2\n\n" +
		"💵 Ваш баланс: *1045.5 RUB*"
	assert.Equal(t, want, got)
}

func TestRender_MissingOptionalFields(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	for _, typ := range entity.NotificationTypes() {
		for _, content := range []json.RawMessage{nil, json.RawMessage(`{}`), json.RawMessage(`null`)} {
			got, err := r.Render(typ, content)
			require.NoError(t, err, "type %s content %q", typ, content)
			assert.NotEmpty(t, got)
			assert.NotContains(t, got, "<no value>")
		}
	}

	income, err := r.Render(entity.TypeIncomeCredited, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Contains(t, income, "Уровень: —")
	assert.Contains(t, income, "От реферала: Пользователь")
}

func TestRender_Errors(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)

	_, err := r.Render("birthday", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, entity.ErrTemplateNotFound)

	_, err = r.Render(entity.TypePurchase, json.RawMessage(`{"amount":"many"}`))
	assert.ErrorIs(t, err, entity.ErrInvalidContent)
}

func TestEscapeMarkdown(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `a\_b\*c\[d`, templates.EscapeMarkdown("a_b*c[d"))
	assert.Equal(t, "plain", templates.EscapeMarkdown("plain"))
}

func TestFormatAmount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "990", templates.FormatAmount(990))
	assert.Equal(t, "1234.5", templates.FormatAmount(1234.5))
	assert.Equal(t, "0", templates.FormatAmount(0))
}
