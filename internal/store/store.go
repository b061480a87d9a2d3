// Package store persists the ledger: accounts, the transaction log, users and scheduled payments.
//
// Account numbers, IBANs and two-factor secrets are sealed with the codec before they reach the
// database and opened again on every read, so callers only ever see plaintext in the
// non-persisted model fields. Equality lookups go through the deterministic hash columns.
package store

import (
	"context"
	"errors"
	"time"

	"banking_system/internal/codec"
	"banking_system/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Filter narrows transaction listings. Zero values disable a criterion.
type Filter struct {
	Type   domain.TransactionType
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// AccountRepository reads and writes accounts
type AccountRepository interface {
	Create(ctx context.Context, acc *domain.Account) error
	FindByID(ctx context.Context, id uint) (*domain.Account, error)
	FindByOwnerID(ctx context.Context, userID uint) ([]domain.Account, error)
	FindByAccountNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	FindByIBAN(ctx context.Context, iban string) (*domain.Account, error)
	// LockByIDs returns the existing accounts among ids, ordered by id and locked for update.
	LockByIDs(ctx context.Context, ids ...uint) ([]domain.Account, error)
	UpdateBalance(ctx context.Context, id uint, balance decimal.Decimal) error
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context, limit, offset int) ([]domain.Account, int64, error)
}

// TransactionRepository appends to and queries the transaction log
type TransactionRepository interface {
	Create(ctx context.Context, t *domain.Transaction) error
	FindByAccountID(ctx context.Context, accountID uint, f Filter) ([]domain.TransactionView, int64, error)
	// FindByUserID matches rows where either leg belongs to an account owned by userID.
	FindByUserID(ctx context.Context, userID uint, f Filter) ([]domain.TransactionView, int64, error)
	List(ctx context.Context, f Filter) ([]domain.TransactionView, int64, error)
}

// UserRepository reads and writes users and their two-factor state
type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	SetTwoFactorSecret(ctx context.Context, id uint, secret string) error
	EnableTwoFactor(ctx context.Context, id uint, at time.Time) error
	DisableTwoFactor(ctx context.Context, id uint) error
	List(ctx context.Context, limit, offset int) ([]domain.User, int64, error)
}

// ScheduledPaymentRepository reads and writes scheduled payments
type ScheduledPaymentRepository interface {
	Create(ctx context.Context, p *domain.ScheduledPayment) error
	FindByOwnerID(ctx context.Context, userID uint) ([]domain.ScheduledPayment, error)
	// DeleteForOwner removes the payment and returns it, or ErrNotFound when userID does not own it.
	DeleteForOwner(ctx context.Context, id, userID uint) (*domain.ScheduledPayment, error)
	DueIDs(ctx context.Context, now time.Time, limit int) ([]uint, error)
	// LockDue claims a due payment, skipping rows another executor holds.
	LockDue(ctx context.Context, id uint, now time.Time) (*domain.ScheduledPayment, error)
	SaveRun(ctx context.Context, p *domain.ScheduledPayment) error
}

// Store groups the repositories and runs units of work atomically
type Store interface {
	Accounts() AccountRepository
	Transactions() TransactionRepository
	Users() UserRepository
	ScheduledPayments() ScheduledPaymentRepository
	// WithinTx runs fn against a Store bound to a single database transaction.
	// fn's error rolls everything back.
	WithinTx(ctx context.Context, fn func(Store) error) error
}

// GormStore is the Store backed by gorm
type GormStore struct {
	db    *gorm.DB
	codec *codec.Codec
}

// New creates a GormStore over an open connection pool
func New(db *gorm.DB, c *codec.Codec) *GormStore {
	return &GormStore{db: db, codec: c}
}

// Accounts returns the account repository
func (s *GormStore) Accounts() AccountRepository { return &accountRepository{db: s.db, codec: s.codec} }

// Transactions returns the transaction log repository
func (s *GormStore) Transactions() TransactionRepository {
	return &transactionRepository{db: s.db, codec: s.codec}
}

// Users returns the user repository
func (s *GormStore) Users() UserRepository { return &userRepository{db: s.db, codec: s.codec} }

// ScheduledPayments returns the scheduled payment repository
func (s *GormStore) ScheduledPayments() ScheduledPaymentRepository {
	return &scheduledPaymentRepository{db: s.db, codec: s.codec}
}

// WithinTx opens a transaction, or a savepoint when s is already transactional
func (s *GormStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, codec: s.codec})
	})
}

// mapError converts gorm errors into domain errors, naming the missing entity
func mapError(err error, entity string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &entityError{entity: entity, err: domain.ErrNotFound}
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &entityError{entity: entity, err: domain.ErrAlreadyExists}
	}
	return err
}

// entityError prefixes a domain error with the entity it concerns ("account not found")
type entityError struct {
	entity string
	err    error
}

func (e *entityError) Error() string { return e.entity + " " + e.err.Error() }
func (e *entityError) Unwrap() error { return e.err }

// NotFound builds the error repositories return for a missing entity
func NotFound(entity string) error { return &entityError{entity: entity, err: domain.ErrNotFound} }

// Duplicate builds the error repositories return on a unique constraint violation
func Duplicate(entity string) error { return &entityError{entity: entity, err: domain.ErrAlreadyExists} }
