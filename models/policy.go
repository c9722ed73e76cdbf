package models

import (
	"time"

	"gorm.io/gorm"
)

// PolicyType is the product line of a policy
type PolicyType string

const (
	PolicyTypeTermLife      PolicyType = "TermLife"
	PolicyTypeWholeLife     PolicyType = "WholeLife"
	PolicyTypeUniversalLife PolicyType = "UniversalLife"
)

// Valid reports whether t is a known policy type.
func (t PolicyType) Valid() bool {
	switch t {
	case PolicyTypeTermLife, PolicyTypeWholeLife, PolicyTypeUniversalLife:
		return true
	}
	return false
}

// Factor is the premium multiplier for the policy type.
func (t PolicyType) Factor() float64 {
	switch t {
	case PolicyTypeWholeLife:
		return 1.5
	case PolicyTypeUniversalLife:
		return 1.3
	default:
		return 1.0
	}
}

// PolicyStatus indicates where a policy is in its lifecycle
type PolicyStatus string

const (
	PolicyStatusPending   PolicyStatus = "Pending"
	PolicyStatusActive    PolicyStatus = "Active"
	PolicyStatusExpired   PolicyStatus = "Expired"
	PolicyStatusCancelled PolicyStatus = "Cancelled"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s PolicyStatus) Terminal() bool {
	return s == PolicyStatusExpired || s == PolicyStatusCancelled
}

// Policy is the off-chain view of an on-chain insurance policy.
// Status only advances through confirmed ledger transactions; PendingTx holds
// the hash of an outstanding submission until the poller resolves it.
// All monetary amounts are integers in the smallest currency unit.
type Policy struct {
	ID                  string       `gorm:"primaryKey;type:uuid;not null" json:"id"`
	PolicyholderAddress string       `gorm:"type:varchar(128);not null;index" json:"policyholder_address"`
	PolicyType          PolicyType   `gorm:"type:varchar(32);not null" json:"policy_type"`
	CoverageAmount      int64        `gorm:"not null" json:"coverage_amount"`
	PremiumAmount       int64        `gorm:"not null" json:"premium_amount"` // annual
	TermDays            int          `gorm:"not null" json:"term_days"`
	Status              PolicyStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	StartDate           time.Time    `gorm:"not null" json:"start_date"`
	EndDate             time.Time    `gorm:"not null" json:"end_date"`
	NextDueDate         time.Time    `gorm:"not null" json:"next_due_date"`
	LastConfirmedTx     string       `gorm:"type:varchar(128)" json:"last_confirmed_tx"`
	PendingTx           string       `gorm:"type:varchar(128)" json:"pending_tx,omitempty"`
	CreatedAt           time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt           time.Time    `json:"updated_at" gorm:"autoUpdateTime"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
