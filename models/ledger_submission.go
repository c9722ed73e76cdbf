package models

import "time"

// LedgerSubmission is the idempotency record for a ledger write. The key is
// derived from (operation, entity id, period/claim index), so a retried call
// for the same logical transaction replays the recorded hash instead of
// submitting again.
type LedgerSubmission struct {
	ID             string    `gorm:"primaryKey;type:uuid;not null" json:"id"`
	IdempotencyKey string    `gorm:"type:varchar(256);not null;uniqueIndex" json:"idempotency_key"`
	Operation      string    `gorm:"type:varchar(128);not null" json:"operation"`
	TxHash         string    `gorm:"type:varchar(128);not null" json:"tx_hash"`
	Strategy       string    `gorm:"type:varchar(32);not null" json:"strategy"` // which submit path succeeded
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}
