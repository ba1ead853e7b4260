package entity

import "time"

// Content payloads stored in notifications.content. Every field is optional for rendering.

type PurchaseContent struct {
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency,omitempty"`
	ProductName  string    `json:"productName,omitempty"`
	ProductID    string    `json:"productId,omitempty"`
	PaymentID    string    `json:"paymentId,omitempty"`
	PurchaseDate time.Time `json:"purchaseDate,omitzero"`
}

type ReferralRegisteredContent struct {
	ReferralID        string    `json:"referralId,omitempty"`
	ReferralUsername  string    `json:"referralUsername,omitempty"`
	ReferralFirstName string    `json:"referralFirstName,omitempty"`
	RegistrationDate  time.Time `json:"registrationDate,omitzero"`
	TotalReferrals    int       `json:"totalReferrals,omitempty"`
	ProfileComplete   bool      `json:"profileComplete"`
}

type ReferralPurchaseContent struct {
	ReferralID       string    `json:"referralId,omitempty"`
	ReferralUsername string    `json:"referralUsername,omitempty"`
	PurchaseAmount   float64   `json:"purchaseAmount"`
	Currency         string    `json:"currency,omitempty"`
	ExpectedReward   float64   `json:"expectedReward"`
	RewardPercentage float64   `json:"rewardPercentage"`
	PurchaseDate     time.Time `json:"purchaseDate,omitzero"`
}

type IncomeCreditedContent struct {
	Amount               float64   `json:"amount"`
	Currency             string    `json:"currency,omitempty"`
	FromReferralID       string    `json:"fromReferralId,omitempty"`
	FromReferralUsername string    `json:"fromReferralUsername,omitempty"`
	ReferralLevel        int       `json:"referralLevel,omitempty"`
	NewBalance           float64   `json:"newBalance"`
	TransactionID        string    `json:"transactionId,omitempty"`
	CreditedAt           time.Time `json:"creditedAt,omitzero"`
}
