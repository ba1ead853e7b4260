package entity

import "time"

// Preferences is the per-user opt-out set. A user without a stored row has every flag on.
type Preferences struct {
	UserID                    string    `json:"user_id"`
	PurchaseEnabled           bool      `json:"purchaseEnabled"`
	ReferralRegisteredEnabled bool      `json:"referralRegisteredEnabled"`
	ReferralPurchaseEnabled   bool      `json:"referralPurchaseEnabled"`
	IncomeCreditedEnabled     bool      `json:"incomeCreditedEnabled"`
	UpdatedAt                 time.Time `json:"updated_at,omitzero"`
}

func DefaultPreferences(userID string) Preferences {
	return Preferences{
		UserID:                    userID,
		PurchaseEnabled:           true,
		ReferralRegisteredEnabled: true,
		ReferralPurchaseEnabled:   true,
		IncomeCreditedEnabled:     true,
	}
}

// Enabled reports whether notifications of type t are switched on. Unknown types are off.
func (p Preferences) Enabled(t NotificationType) bool {
	ts, ok := typeTable[t]
	if !ok {
		return false
	}
	return ts.enabled(p)
}

// PreferencesPatch is a partial update; nil fields keep their stored value.
type PreferencesPatch struct {
	PurchaseEnabled           *bool `json:"purchaseEnabled,omitempty"`
	ReferralRegisteredEnabled *bool `json:"referralRegisteredEnabled,omitempty"`
	ReferralPurchaseEnabled   *bool `json:"referralPurchaseEnabled,omitempty"`
	IncomeCreditedEnabled     *bool `json:"incomeCreditedEnabled,omitempty"`
}

func (p PreferencesPatch) IsEmpty() bool {
	return p.PurchaseEnabled == nil &&
		p.ReferralRegisteredEnabled == nil &&
		p.ReferralPurchaseEnabled == nil &&
		p.IncomeCreditedEnabled == nil
}

// Apply merges the patch into base and returns the result.
func (p PreferencesPatch) Apply(base Preferences) Preferences {
	if p.PurchaseEnabled != nil {
		base.PurchaseEnabled = *p.PurchaseEnabled
	}
	if p.ReferralRegisteredEnabled != nil {
		base.ReferralRegisteredEnabled = *p.ReferralRegisteredEnabled
	}
	if p.ReferralPurchaseEnabled != nil {
		base.ReferralPurchaseEnabled = *p.ReferralPurchaseEnabled
	}
	if p.IncomeCreditedEnabled != nil {
		base.IncomeCreditedEnabled = *p.IncomeCreditedEnabled
	}
	return base
}
