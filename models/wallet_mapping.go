package models

import "time"

// WalletMapping is the one-to-one association between an application user and
// a ledger address. Both sides carry a unique index so a concurrent bind race
// is decided by the database, not by whichever goroutine read first.
// A mapping is created once and never silently overwritten.
type WalletMapping struct {
	ID            string    `gorm:"primaryKey;type:uuid;not null" json:"id"`
	UserID        string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"user_id"`
	WalletAddress string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"wallet_address"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
