package models

import "time"

// ClaimStatus indicates where a claim is in its lifecycle
type ClaimStatus string

const (
	ClaimStatusPending  ClaimStatus = "Pending"
	ClaimStatusVerified ClaimStatus = "Verified"
	ClaimStatusPaid     ClaimStatus = "Paid"
	ClaimStatusRejected ClaimStatus = "Rejected"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimStatusPaid || s == ClaimStatusRejected
}

// Claim actions that can be in flight on the ledger for a claim.
const (
	ClaimActionVerify = "verify"
	ClaimActionPay    = "pay"
)

// Claim is a payout request against an active policy. Legal transitions are
// Pending -> Verified -> Paid and Pending|Verified -> Rejected, nothing else.
// PendingAction/PendingTx track an admin transition whose ledger transaction
// has been submitted but not yet confirmed.
type Claim struct {
	ID               string      `gorm:"primaryKey;type:uuid;not null" json:"id"`
	PolicyID         string      `gorm:"type:uuid;not null;index" json:"policy_id"`
	ClaimantAddress  string      `gorm:"type:varchar(128);not null;index" json:"claimant_address"`
	Amount           int64       `gorm:"not null" json:"amount"`
	Reason           string      `gorm:"type:text" json:"reason"`
	Status           ClaimStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	VerificationHash string      `gorm:"type:varchar(128)" json:"verification_hash"`
	TxHash           string      `gorm:"type:varchar(128)" json:"tx_hash"`
	PendingAction    string      `gorm:"type:varchar(16)" json:"pending_action,omitempty"`
	PendingTx        string      `gorm:"type:varchar(128)" json:"pending_tx,omitempty"`
	CreatedAt        time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}

// ClaimDocument is a piece of supporting evidence uploaded for a claim and
// stored in object storage under ObjectKey.
type ClaimDocument struct {
	ID          string    `gorm:"primaryKey;type:uuid;not null" json:"id"`
	ClaimID     string    `gorm:"type:uuid;not null;index" json:"claim_id"`
	FileName    string    `gorm:"type:varchar(256);not null" json:"file_name"`
	ContentType string    `gorm:"type:varchar(128)" json:"content_type"`
	ObjectKey   string    `gorm:"type:varchar(512);not null" json:"object_key"`
	URL         string    `gorm:"type:text" json:"url"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}
