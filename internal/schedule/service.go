// Package schedule manages scheduled bill payments and executes them when due.
package schedule

import (
	"context" // Request scope
	"errors"  // Error inspection
	"fmt"     // Error wrapping
	"strings" // Trimming
	"time"    // Start dates

	"banking_system/internal/domain"     // Scheduled payments and errors
	"banking_system/internal/identifier" // IBAN validation
	"banking_system/internal/ledger"     // Amount rules
	"banking_system/internal/store"      // Repositories

	"github.com/shopspring/decimal" // Exact money arithmetic
	"github.com/sirupsen/logrus"    // Logrus for structured logging
)

// ErrInvalidPayee is returned for a missing payee name or a malformed payee IBAN
var ErrInvalidPayee = fmt.Errorf("%w: payee name and a valid payee IBAN are required", domain.ErrInvalidOperation)

// Service creates, lists and cancels scheduled payments
type Service struct {
	store store.Store
}

// NewService creates a Service
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// CreateRequest describes a new scheduled payment
type CreateRequest struct {
	AccountID uint
	PayeeName string
	PayeeIBAN string
	Amount    decimal.Decimal
	Frequency domain.Frequency
	StartDate time.Time
	Notes     string
}

// Create stores a payment due on its start date
func (s *Service) Create(ctx context.Context, ownerID uint, req CreateRequest) (*domain.ScheduledPayment, error) {
	if err := ledger.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if !req.Frequency.Valid() {
		return nil, domain.ErrInvalidFrequency
	}
	name := strings.TrimSpace(req.PayeeName)
	if name == "" || !identifier.ValidIBAN(req.PayeeIBAN) {
		return nil, ErrInvalidPayee
	}

	acc, err := s.store.Accounts().FindByID(ctx, req.AccountID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if acc == nil || acc.UserID != ownerID {
		return nil, fmt.Errorf("%w: account not found or access denied", domain.ErrAccessDenied)
	}

	start := StartOfDay(req.StartDate) // Date only, first occurrence
	p := &domain.ScheduledPayment{
		UserID:    ownerID,
		AccountID: acc.ID,
		PayeeName: name,
		PayeeIBAN: req.PayeeIBAN,
		Amount:    req.Amount,
		Frequency: req.Frequency,
		StartDate: start,
		NextRun:   &start,
		Status:    domain.ScheduleActive,
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		p.Notes = &notes
	}
	if err := s.store.ScheduledPayments().Create(ctx, p); err != nil {
		return nil, err
	}
	p.AccountNumber = acc.AccountNumber // Echo the payer account
	logrus.WithFields(logrus.Fields{
		"user_id":    ownerID,                     // Owner
		"payment_id": p.ID,                        // New payment
		"frequency":  p.Frequency,                 // Cadence
		"next_run":   start.Format(time.DateOnly), // First due date
	}).Info("Scheduled payment created")
	return p, nil
}

// List returns the owner's scheduled payments
func (s *Service) List(ctx context.Context, ownerID uint) ([]domain.ScheduledPayment, error) {
	return s.store.ScheduledPayments().FindByOwnerID(ctx, ownerID)
}

// Cancel deletes a payment the owner holds and returns it
func (s *Service) Cancel(ctx context.Context, id, ownerID uint) (*domain.ScheduledPayment, error) {
	p, err := s.store.ScheduledPayments().DeleteForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":    ownerID,
		"payment_id": id,
	}).Info("Scheduled payment cancelled")
	return p, nil
}
