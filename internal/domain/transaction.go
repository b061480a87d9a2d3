package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a balance-affecting event
type TransactionType string

// Transaction types
const (
	TxDeposit          TransactionType = "deposit"
	TxWithdrawal       TransactionType = "withdrawal"
	TxTransfer         TransactionType = "transfer"
	TxExternalIncoming TransactionType = "external_incoming"
	TxExternalOutgoing TransactionType = "external_outgoing"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxTransfer, TxExternalIncoming, TxExternalOutgoing:
		return true
	}
	return false
}

// StatusCompleted is the status of every synchronously applied movement
const StatusCompleted = "completed"

// Display labels for cash legs without a counterpart account
const (
	CashInLabel  = "CASH IN"
	CashOutLabel = "CASH OUT"
)

// Transaction Model. Rows are append-only.
type Transaction struct {
	ID               uint            `gorm:"primaryKey" json:"id"`                             // Primary key
	FromAccountID    *uint           `gorm:"index" json:"from_account_id"`                     // Debited account, nil for cash/external credit
	ToAccountID      *uint           `gorm:"index" json:"to_account_id"`                       // Credited account, nil for cash/external debit
	Amount           decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`        // Always positive
	Type             TransactionType `gorm:"size:20;index;not null" json:"type"`               // Movement kind
	Status           string          `gorm:"size:20;not null;default:completed" json:"status"` // completed
	Timestamp        time.Time       `gorm:"index;not null;autoCreateTime" json:"timestamp"`   // Creation time
	ExternalFromName *string         `gorm:"size:255" json:"external_from_name,omitempty"`     // Counterparty name on credits
	ExternalFromIBAN *string         `gorm:"column:external_from_iban;size:255" json:"-"`      // Sealed counterparty IBAN on credits
	ExternalToName   *string         `gorm:"size:255" json:"external_to_name,omitempty"`       // Counterparty name on debits
	ExternalToIBAN   *string         `gorm:"column:external_to_iban;size:255" json:"-"`        // Sealed counterparty IBAN on debits
	Reference        *string         `gorm:"size:255" json:"reference,omitempty"`              // Free text from the payer
	Description      *string         `gorm:"size:500" json:"description,omitempty"`            // System generated note
}

// Metadata describes counterparts of a movement that are not accounts in this bank
type Metadata struct {
	ExternalFromName string
	ExternalFromIBAN string
	ExternalToName   string
	ExternalToIBAN   string
	Reference        string
	Description      string
}

// NewTransaction builds a completed log row, labelling cash legs that have no counterpart
func NewTransaction(from, to *uint, amount decimal.Decimal, typ TransactionType, meta Metadata) *Transaction {
	if typ == TxDeposit && from == nil && meta.ExternalFromName == "" {
		meta.ExternalFromName = CashInLabel
	}
	if typ == TxWithdrawal && to == nil && meta.ExternalToName == "" {
		meta.ExternalToName = CashOutLabel
	}
	return &Transaction{
		FromAccountID:    from,
		ToAccountID:      to,
		Amount:           amount,
		Type:             typ,
		Status:           StatusCompleted,
		ExternalFromName: optional(meta.ExternalFromName),
		ExternalFromIBAN: optional(meta.ExternalFromIBAN),
		ExternalToName:   optional(meta.ExternalToName),
		ExternalToIBAN:   optional(meta.ExternalToIBAN),
		Reference:        optional(meta.Reference),
		Description:      optional(meta.Description),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or ""
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
