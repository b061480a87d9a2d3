package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType enumerates the supported account products
type AccountType string

// Account types
const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
	AccountBusiness AccountType = "business"
)

// Valid reports whether t is a known account type
func (t AccountType) Valid() bool {
	switch t {
	case AccountChecking, AccountSavings, AccountBusiness:
		return true
	}
	return false
}

// Account Model
//
// AccountNumber and IBAN hold plaintext and are never persisted; the store seals them into the
// cipher columns and keeps a deterministic hash of each for lookups and uniqueness.
type Account struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`                                                             // Primary key
	UserID              uint            `gorm:"index;not null" json:"user_id"`                                                    // Owner
	AccountNumber       string          `gorm:"-" json:"account_number"`                                                          // Decrypted account number
	IBAN                string          `gorm:"-" json:"iban"`                                                                    // Decrypted IBAN
	AccountNumberCipher string          `gorm:"column:account_number;size:255;not null" json:"-"`                                 // Sealed account number
	AccountNumberHash   string          `gorm:"size:64;uniqueIndex;not null" json:"-"`                                            // Lookup hash
	IBANCipher          string          `gorm:"column:iban;size:255;not null" json:"-"`                                           // Sealed IBAN
	IBANHash            string          `gorm:"column:iban_hash;size:64;uniqueIndex;not null" json:"-"`                           // Lookup hash
	Balance             decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"balance"`                             // Current balance
	AccountType         AccountType     `gorm:"size:20;not null" json:"account_type"`                                             // checking, savings or business
	CreatedAt           time.Time       `json:"created_at"`                                                                       // Opening time
	Debits              []Transaction   `gorm:"foreignKey:FromAccountID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"-"` // Outgoing legs
	Credits             []Transaction   `gorm:"foreignKey:ToAccountID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"-"`   // Incoming legs
}

// CanCover reports whether the balance covers amount; an exact match is allowed
func (a *Account) CanCover(amount decimal.Decimal) bool {
	return !a.Balance.LessThan(amount)
}
