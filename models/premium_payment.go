package models

import "time"

// PaymentStatus indicates the confirmation state of a premium payment
type PaymentStatus string

const (
	PaymentStatusSubmitted PaymentStatus = "Submitted"
	PaymentStatusConfirmed PaymentStatus = "Confirmed"
	PaymentStatusFailed    PaymentStatus = "Failed"
)

// PremiumPayment records one premium submission for a policy period.
// At most one Confirmed payment may exist per (policy_id, period_index);
// PremiumService enforces this before submitting and again when committing
// the confirmation.
type PremiumPayment struct {
	ID          string        `gorm:"primaryKey;type:uuid;not null" json:"id"`
	PolicyID    string        `gorm:"type:uuid;not null;index:idx_payment_policy_period" json:"policy_id"`
	Amount      int64         `gorm:"not null" json:"amount"`
	PeriodIndex int           `gorm:"not null;index:idx_payment_policy_period" json:"period_index"`
	Status      PaymentStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	TxHash      string        `gorm:"type:varchar(128)" json:"tx_hash"`
	CreatedAt   time.Time     `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time     `json:"updated_at" gorm:"autoUpdateTime"`
}
