// services/wallet_service.go
package services

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"cora-insurance-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WalletService owns the user ↔ ledger-address mapping. A mapping is created
// on first successful bind and never silently overwritten; rebinding either
// side to something else is a conflict.
type WalletService struct {
	DB *gorm.DB
}

func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{DB: db}
}

// Verify reports whether address is the bound wallet for userID. Read-only.
func (s *WalletService) Verify(userID, address string) (bool, error) {
	var mapping models.WalletMapping
	err := s.DB.Where("user_id = ?", userID).First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return mapping.WalletAddress == address, nil
}

// Bind creates the mapping for (userID, address). Calling again with the same
// pair is a no-op that returns the existing mapping. A different address for
// the same user, or the same address for a different user, fails with
// models.ErrConflict and changes nothing. The unique indexes on both columns
// make the database the arbiter for concurrent binds.
func (s *WalletService) Bind(userID, address string) (*models.WalletMapping, error) {
	userID = strings.TrimSpace(userID)
	address = strings.TrimSpace(address)
	if userID == "" || address == "" {
		return nil, fmt.Errorf("%w: user id and wallet address are required", models.ErrValidation)
	}

	var mapping models.WalletMapping
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var existing models.WalletMapping
		err := tx.Where("user_id = ?", userID).First(&existing).Error
		if err == nil {
			if existing.WalletAddress == address {
				mapping = existing
				return nil
			}
			return fmt.Errorf("%w: user %s is already bound to a different wallet", models.ErrConflict, userID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		err = tx.Where("wallet_address = ?", address).First(&existing).Error
		if err == nil {
			return fmt.Errorf("%w: wallet %s is already bound to another user", models.ErrConflict, address)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		mapping = models.WalletMapping{
			ID:            uuid.NewString(),
			UserID:        userID,
			WalletAddress: address,
		}
		if err := tx.Create(&mapping).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Lost a concurrent bind race; the winner's row decides.
				return fmt.Errorf("%w: wallet mapping already exists", models.ErrConflict)
			}
			return err
		}
		log.Printf("✅ [WALLET] bound user %s to wallet %s", userID, address)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}
