package entity

import "time"

// Routing keys of the business events the notifier consumes.
const (
	EventPurchaseCompleted  = "payment.succeeded"
	EventReferralRegistered = "referral.registered"
	EventReferralPurchase   = "referral.purchase"
	EventIncomeCredited     = "referral.income_credited"
)

type Payment struct {
	ID          string    `json:"id"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

type PurchaseCompleted struct {
	UserID  string  `json:"userId"`
	Payment Payment `json:"payment"`
}

type Referral struct {
	UserID         string    `json:"userId"`
	Username       string    `json:"username"`
	FirstName      string    `json:"firstName,omitempty"`
	RegisteredAt   time.Time `json:"registeredAt,omitzero"`
	TotalReferrals int       `json:"totalReferrals,omitempty"`
}

type ReferralRegistered struct {
	ReferrerID string   `json:"referrerId"`
	Referral   Referral `json:"referral"`
}

type ReferralPurchaseInfo struct {
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	ExpectedReward   float64   `json:"expectedReward"`
	RewardPercentage float64   `json:"rewardPercentage"`
	CreatedAt        time.Time `json:"createdAt,omitzero"`
}

type ReferralPurchase struct {
	ReferrerID string               `json:"referrerId"`
	Referral   Referral             `json:"referral"`
	Purchase   ReferralPurchaseInfo `json:"purchase"`
}

type Income struct {
	Amount               float64   `json:"amount"`
	Currency             string    `json:"currency"`
	FromReferralID       string    `json:"fromReferralId"`
	FromReferralUsername string    `json:"fromReferralUsername"`
	ReferralLevel        int       `json:"referralLevel"`
	NewBalance           float64   `json:"newBalance"`
	TransactionID        string    `json:"transactionId"`
	CreditedAt           time.Time `json:"creditedAt,omitzero"`
}

type IncomeCredited struct {
	UserID string `json:"userId"`
	Income Income `json:"income"`
}

// Recipient возвращает пользователя, которому адресовано уведомление о событии.
func (e PurchaseCompleted) Recipient() string { return e.UserID }

func (e ReferralRegistered) Recipient() string { return e.ReferrerID }

func (e ReferralPurchase) Recipient() string { return e.ReferrerID }

func (e IncomeCredited) Recipient() string { return e.UserID }
