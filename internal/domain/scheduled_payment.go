package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Frequency is how often a scheduled payment recurs
type Frequency string

// Frequencies
const (
	FrequencyOnce      Frequency = "once"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

// Valid reports whether f is a known frequency
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	}
	return false
}

// Scheduled payment statuses
const (
	ScheduleActive    = "scheduled"
	ScheduleCompleted = "completed"
	ScheduleFailed    = "failed"
)

// ScheduledPayment Model
type ScheduledPayment struct {
	ID              uint            `gorm:"primaryKey" json:"id"`                                   // Primary key
	UserID          uint            `gorm:"index;not null" json:"user_id"`                          // Owner
	AccountID       uint            `gorm:"index;not null" json:"account_id"`                       // Source account
	PayeeName       string          `gorm:"size:255;not null" json:"payee_name"`                    // Recipient name
	PayeeIBAN       string          `gorm:"-" json:"payee_iban"`                                    // Decrypted recipient IBAN
	PayeeIBANCipher string          `gorm:"column:payee_iban;size:255;not null" json:"-"`           // Sealed recipient IBAN
	PayeeIBANHash   string          `gorm:"size:64;index;not null" json:"-"`                        // Lookup hash
	Amount          decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`              // Amount per occurrence
	Frequency       Frequency       `gorm:"size:20;not null" json:"frequency"`                      // Recurrence
	StartDate       time.Time       `gorm:"type:date;not null" json:"start_date"`                   // First due date
	NextRun         *time.Time      `gorm:"index" json:"next_run"`                                  // Next due time, nil when finished
	Notes           *string         `gorm:"size:500" json:"notes,omitempty"`                        // Free text
	Status          string          `gorm:"size:20;index;not null;default:scheduled" json:"status"` // scheduled, completed or failed
	LastRunAt       *time.Time      `json:"last_run_at,omitempty"`                                  // Last execution attempt
	LastError       *string         `gorm:"size:255" json:"last_error,omitempty"`                   // Last business failure
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	AccountNumber   string          `gorm:"-" json:"account_number,omitempty"`                      // Source account number, filled on listing
	Account         *Account        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"` // Source account relation
}

// Due reports whether the payment should run at now
func (p *ScheduledPayment) Due(now time.Time) bool {
	return p.Status == ScheduleActive && p.NextRun != nil && !p.NextRun.After(now)
}
