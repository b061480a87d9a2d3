// Package ledger moves money between accounts.
//
// Every movement runs in one store transaction: the involved account rows are locked in
// ascending id order, checked, rewritten and logged before commit. Nothing else in the module
// writes balances.
package ledger

import (
	"context" // Request scope
	"errors"  // Error inspection
	"fmt"     // Error wrapping

	"banking_system/internal/domain"     // Accounts, log rows and errors
	"banking_system/internal/identifier" // Account numbers and IBANs
	"banking_system/internal/store"      // Repositories

	"github.com/shopspring/decimal" // Exact money arithmetic
	"github.com/sirupsen/logrus"    // Logrus for structured logging
)

const (
	maxOpenAttempts  = 3                                         // Identifier collisions tolerated per open
	closureReference = "Balance transfer before account closure" // Reference on the sweep row
)

// Engine applies balance-affecting operations
type Engine struct {
	store     store.Store            // Repositories, possibly already in a transaction
	ibans     *identifier.Generator  // IBAN minting
	newNumber func() (string, error) // Account number source
}

// NewEngine builds an engine over s that mints IBANs with ibans
func NewEngine(s store.Store, ibans *identifier.Generator) *Engine {
	return &Engine{store: s, ibans: ibans, newNumber: identifier.NewAccountNumber}
}

// WithStore returns a copy of the engine bound to s, typically a store already inside a transaction
func (e *Engine) WithStore(s store.Store) *Engine {
	c := *e
	c.store = s
	return &c
}

// Receipt is the outcome of a movement
type Receipt struct {
	Transaction domain.Transaction `json:"transaction"`
	FromBalance *decimal.Decimal   `json:"from_balance,omitempty"`
	ToBalance   *decimal.Decimal   `json:"to_balance,omitempty"`
}

// OpenAccount creates an account with a zero balance and fresh identifiers. An empty type opens a
// checking account. Identifier collisions are retried.
func (e *Engine) OpenAccount(ctx context.Context, ownerID uint, typ domain.AccountType) (*domain.Account, error) {
	if typ == "" {
		typ = domain.AccountChecking // Default account type
	}
	if !typ.Valid() {
		return nil, domain.ErrInvalidAccountType
	}
	var lastErr error
	for attempt := 1; attempt <= maxOpenAttempts; attempt++ {
		number, err := e.newNumber()
		if err != nil {
			return nil, err
		}
		acc := &domain.Account{
			UserID:        ownerID,
			AccountNumber: number,
			IBAN:          e.ibans.IBAN(number),
			Balance:       decimal.Zero,
			AccountType:   typ,
		}
		err = e.store.Accounts().Create(ctx, acc) // Unique indexes catch collisions
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"user_id":    ownerID,
				"account_id": acc.ID,
				"type":       typ,
			}).Info("Account opened")
			return acc, nil
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return nil, err
		}
		lastErr = err // Keep for the final error
		logrus.WithField("attempt", attempt).Warn("Account identifier collision, retrying")
	}
	return nil, fmt.Errorf("ledger: could not allocate unique account identifiers: %w", lastErr)
}

// Account returns an account the caller owns
func (e *Engine) Account(ctx context.Context, id, ownerID uint) (*domain.Account, error) {
	acc, err := e.store.Accounts().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if acc.UserID != ownerID {
		return nil, accessDenied(id) // Not the caller's account
	}
	return acc, nil
}

// Owner returns the id of the user holding an account
func (e *Engine) Owner(ctx context.Context, id uint) (uint, error) {
	acc, err := e.store.Accounts().FindByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return acc.UserID, nil
}

// Accounts lists the caller's accounts, newest first
func (e *Engine) Accounts(ctx context.Context, ownerID uint) ([]domain.Account, error) {
	return e.store.Accounts().FindByOwnerID(ctx, ownerID)
}

// Balance returns the balance of an account the caller owns
func (e *Engine) Balance(ctx context.Context, id, ownerID uint) (decimal.Decimal, error) {
	acc, err := e.Account(ctx, id, ownerID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// AccountHistory lists the log rows touching an account the caller owns
func (e *Engine) AccountHistory(ctx context.Context, accountID, ownerID uint, f store.Filter) ([]domain.TransactionView, int64, error) {
	if _, err := e.Account(ctx, accountID, ownerID); err != nil {
		return nil, 0, err // Ownership first
	}
	return e.store.Transactions().FindByAccountID(ctx, accountID, f)
}

// History lists the log rows touching any account the caller owns
func (e *Engine) History(ctx context.Context, ownerID uint, f store.Filter) ([]domain.TransactionView, int64, error) {
	return e.store.Transactions().FindByUserID(ctx, ownerID, f)
}

// DepositRequest credits cash to an owned account
type DepositRequest struct {
	AccountID uint
	UserID    uint
	Amount    decimal.Decimal
}

// Deposit credits the account and logs a CASH IN row
func (e *Engine) Deposit(ctx context.Context, req DepositRequest) (*Receipt, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	var receipt *Receipt
	err := e.store.WithinTx(ctx, func(tx store.Store) error {
		acc, err := lockOwned(ctx, tx, req.AccountID, req.UserID)
		if err != nil {
			return err
		}
		receipt, err = move(ctx, tx, nil, acc, req.Amount, domain.TxDeposit, domain.Metadata{}) // Credit only
		return err
	})
	if err != nil {
		return nil, err
	}
	logMovement(receipt, req.UserID).Info("Deposit transaction")
	return receipt, nil
}

// WithdrawRequest debits cash from an owned account
type WithdrawRequest struct {
	AccountID uint
	UserID    uint
	Amount    decimal.Decimal
}

// Withdraw debits the account and logs a CASH OUT row
func (e *Engine) Withdraw(ctx context.Context, req WithdrawRequest) (*Receipt, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	var receipt *Receipt
	err := e.store.WithinTx(ctx, func(tx store.Store) error {
		acc, err := lockOwned(ctx, tx, req.AccountID, req.UserID)
		if err != nil {
			return err
		}
		receipt, err = move(ctx, tx, acc, nil, req.Amount, domain.TxWithdrawal, domain.Metadata{}) // Debit only
		return err
	})
	if err != nil {
		return nil, err
	}
	logMovement(receipt, req.UserID).Info("Withdrawal transaction")
	return receipt, nil
}

// TransferRequest moves money between two accounts of this bank
type TransferRequest struct {
	FromAccountID uint
	ToAccountID   uint
	UserID        uint
	Amount        decimal.Decimal
	Reference     string
}

// Transfer debits from and credits to in one log row. The caller must own the source only.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*Receipt, error) {
	if req.FromAccountID == req.ToAccountID {
		return nil, domain.ErrSameAccount // Self transfer
	}
	if err := ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	var receipt *Receipt
	err := e.store.WithinTx(ctx, func(tx store.Store) error {
		from, to, err := lockPair(ctx, tx, req.FromAccountID, req.ToAccountID)
		if err != nil {
			return err
		}
		if from.UserID != req.UserID {
			return accessDenied(from.ID) // Only the source must be owned
		}
		receipt, err = move(ctx, tx, from, to, req.Amount, domain.TxTransfer, domain.Metadata{Reference: req.Reference})
		return err
	})
	if err != nil {
		return nil, err
	}
	logMovement(receipt, req.UserID).Info("Transfer transaction")
	return receipt, nil
}

// IncomingRequest is a payment arriving from another bank
type IncomingRequest struct {
	IBAN       string
	SenderName string
	SenderIBAN string
	Amount     decimal.Decimal
	Reference  string
}

// ExternalIncoming credits the account holding IBAN. It is not tied to a user session.
func (e *Engine) ExternalIncoming(ctx context.Context, req IncomingRequest) (*Receipt, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	var receipt *Receipt
	err := e.store.WithinTx(ctx, func(tx store.Store) error {
		target, err := tx.Accounts().FindByIBAN(ctx, req.IBAN) // Lookup by blind index
		if err != nil {
			return err
		}
		acc, err := lockOne(ctx, tx, target.ID)
		if err != nil {
			return err
		}
		receipt, err = move(ctx, tx, nil, acc, req.Amount, domain.TxExternalIncoming, domain.Metadata{
			ExternalFromName: req.SenderName,
			ExternalFromIBAN: req.SenderIBAN,
			Reference:        req.Reference,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	logMovement(receipt, 0).Info("External incoming transaction")
	return receipt, nil
}

// OutgoingRequest is a payment leaving to another bank
type OutgoingRequest struct {
	FromAccountID uint
	UserID        uint
	RecipientName string
	RecipientIBAN string
	Amount        decimal.Decimal
	Reference     string
}

// ExternalOutgoing debits an owned account towards an IBAN outside this bank
func (e *Engine) ExternalOutgoing(ctx context.Context, req OutgoingRequest) (*Receipt, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	var receipt *Receipt
	err := e.store.WithinTx(ctx, func(tx store.Store) error {
		acc, err := lockOwned(ctx, tx, req.FromAccountID, req.UserID)
		if err != nil {
			return err
		}
		receipt, err = move(ctx, tx, acc, nil, req.Amount, domain.TxExternalOutgoing, domain.Metadata{
			ExternalToName: req.RecipientName,
			ExternalToIBAN: req.RecipientIBAN,
			Reference:      req.Reference,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	logMovement(receipt, req.UserID).Info("External outgoing transaction")
	return receipt, nil
}

// CloseRequest deletes an owned account, sweeping any balance to TransferAccountID first
type CloseRequest struct {
	AccountID         uint
	UserID            uint
	TransferAccountID *uint
}

// Closure reports what CloseAccount did
type Closure struct {
	AccountID         uint                `json:"account_id"`
	Transferred       decimal.Decimal     `json:"transferred_amount"`
	TransferAccountID *uint               `json:"transfer_account_id,omitempty"`
	Transaction       *domain.Transaction `json:"transaction,omitempty"`
}

// CloseAccount hard deletes an account. A positive balance must be swept to another account the
// caller owns; the sweep is logged as a transfer and the deletion happens in the same unit.
func (e *Engine) CloseAccount(ctx context.Context, req CloseRequest) (*Closure, error) {
	var closure *Closure
	err := e.store.WithinTx(ctx, func(tx store.Store) error {
		ids := []uint{req.AccountID}
		if req.TransferAccountID != nil && *req.TransferAccountID != req.AccountID {
			ids = append(ids, *req.TransferAccountID)
		}
		locked, err := tx.Accounts().LockByIDs(ctx, ids...)
		if err != nil {
			return err
		}
		source := find(locked, req.AccountID)
		if source == nil {
			return store.NotFound("account")
		}
		if source.UserID != req.UserID {
			return accessDenied(source.ID)
		}

		closure = &Closure{AccountID: source.ID, Transferred: decimal.Zero}
		if source.Balance.IsPositive() {
			switch {
			case req.TransferAccountID == nil:
				return domain.ErrBalanceRemaining
			case *req.TransferAccountID == source.ID:
				return fmt.Errorf("%w: transfer account must differ from the account being closed", domain.ErrInvalidOperation)
			}
			dest := find(locked, *req.TransferAccountID)
			if dest == nil || dest.UserID != req.UserID {
				return fmt.Errorf("%w: invalid transfer account", domain.ErrAccessDenied)
			}
			receipt, err := move(ctx, tx, source, dest, source.Balance, domain.TxTransfer, domain.Metadata{
				Reference:   closureReference,
				Description: fmt.Sprintf("Closure of account %d", source.ID),
			})
			if err != nil {
				return err
			}
			closure.Transferred = receipt.Transaction.Amount
			closure.TransferAccountID = &dest.ID
			closure.Transaction = &receipt.Transaction
		}
		return tx.Accounts().Delete(ctx, source.ID)
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":     req.UserID,                         // Owner
		"account_id":  closure.AccountID,                  // Deleted account
		"transferred": closure.Transferred.StringFixed(2), // Swept balance
	}).Info("Account closed")
	return closure, nil
}

// move applies a debit on from and a credit on to (either may be nil) and appends the log row.
// Both accounts must already be locked by the caller.
func move(ctx context.Context, tx store.Store, from, to *domain.Account, amount decimal.Decimal,
	typ domain.TransactionType, meta domain.Metadata) (*Receipt, error) {
	receipt := &Receipt{}
	var fromID, toID *uint
	if from != nil {
		if !from.CanCover(amount) {
			return nil, domain.ErrInsufficientFunds // No overdraft
		}
		balance := from.Balance.Sub(amount)
		if err := tx.Accounts().UpdateBalance(ctx, from.ID, balance); err != nil {
			return nil, err
		}
		from.Balance = balance // Keep the locked copy current
		fromID = &from.ID
		receipt.FromBalance = &balance
	}
	if to != nil {
		balance := to.Balance.Add(amount)
		if balance.GreaterThanOrEqual(maxMoney) {
			return nil, domain.ErrBalanceOverflow // Would not fit the column
		}
		if err := tx.Accounts().UpdateBalance(ctx, to.ID, balance); err != nil {
			return nil, err
		}
		to.Balance = balance // Keep the locked copy current
		toID = &to.ID
		receipt.ToBalance = &balance
	}
	t := domain.NewTransaction(fromID, toID, amount, typ, meta) // Log row
	if err := tx.Transactions().Create(ctx, t); err != nil {
		return nil, err
	}
	receipt.Transaction = *t
	return receipt, nil
}

func lockOne(ctx context.Context, tx store.Store, id uint) (*domain.Account, error) {
	locked, err := tx.Accounts().LockByIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	acc := find(locked, id)
	if acc == nil {
		return nil, store.NotFound("account")
	}
	return acc, nil
}

func lockOwned(ctx context.Context, tx store.Store, id, ownerID uint) (*domain.Account, error) {
	acc, err := lockOne(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if acc.UserID != ownerID {
		return nil, accessDenied(id)
	}
	return acc, nil
}

// lockPair locks both accounts in one ordered statement
func lockPair(ctx context.Context, tx store.Store, fromID, toID uint) (*domain.Account, *domain.Account, error) {
	locked, err := tx.Accounts().LockByIDs(ctx, fromID, toID)
	if err != nil {
		return nil, nil, err
	}
	from, to := find(locked, fromID), find(locked, toID)
	if from == nil || to == nil {
		return nil, nil, store.NotFound("account")
	}
	return from, to, nil
}

func find(accs []domain.Account, id uint) *domain.Account {
	for i := range accs {
		if accs[i].ID == id {
			return &accs[i]
		}
	}
	return nil
}

// maxMoney is the exclusive bound of a numeric(18,2) column
var maxMoney = decimal.New(1, 16)

// ValidateAmount accepts strictly positive amounts with at most two decimal places that fit the
// balance column
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return domain.ErrInvalidAmount
	}
	if amount.GreaterThanOrEqual(maxMoney) {
		return domain.ErrAmountTooLarge
	}
	return nil
}

func accessDenied(accountID uint) error {
	return fmt.Errorf("%w: account %d belongs to another user", domain.ErrAccessDenied, accountID)
}

func logMovement(r *Receipt, userID uint) *logrus.Entry {
	fields := logrus.Fields{
		"transaction_id": r.Transaction.ID,
		"type":           r.Transaction.Type,
		"amount":         r.Transaction.Amount.StringFixed(2),
	}
	if userID != 0 {
		fields["user_id"] = userID // Interbank credits carry no session user
	}
	if r.Transaction.FromAccountID != nil {
		fields["from_account_id"] = *r.Transaction.FromAccountID
	}
	if r.Transaction.ToAccountID != nil {
		fields["to_account_id"] = *r.Transaction.ToAccountID
	}
	return logrus.WithFields(fields)
}
