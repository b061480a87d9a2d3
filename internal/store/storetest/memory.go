// Package storetest provides an in-memory store.Store for engine and handler tests.
//
// Transactions are serialized by a single mutex and roll back by restoring a snapshot, which
// mirrors the row-lock semantics of the database store closely enough for concurrency tests.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"banking_system/internal/codec"
	"banking_system/internal/domain"
	"banking_system/internal/store"

	"github.com/shopspring/decimal"
)

type state struct {
	nextID       uint
	users        map[uint]domain.User
	accounts     map[uint]domain.Account
	transactions []domain.Transaction
	payments     map[uint]domain.ScheduledPayment
}

func (s *state) clone() *state {
	c := &state{
		nextID:       s.nextID,
		users:        make(map[uint]domain.User, len(s.users)),
		accounts:     make(map[uint]domain.Account, len(s.accounts)),
		transactions: append([]domain.Transaction(nil), s.transactions...),
		payments:     make(map[uint]domain.ScheduledPayment, len(s.payments)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

func (s *state) id() uint {
	s.nextID++
	return s.nextID
}

// Store is an in-memory store.Store
type Store struct {
	mu    *sync.Mutex
	state *state
	inTx  bool

	// BeforeAccountCreate, when set, runs before an account is inserted; its error aborts the insert.
	BeforeAccountCreate func(*domain.Account) error
	// Now stamps created rows. Defaults to time.Now.
	Now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{
		mu: &sync.Mutex{},
		state: &state{
			users:    map[uint]domain.User{},
			accounts: map[uint]domain.Account{},
			payments: map[uint]domain.ScheduledPayment{},
		},
		Now: time.Now,
	}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Accounts() store.AccountRepository { return accounts{s} }
func (s *Store) Transactions() store.TransactionRepository { return transactions{s} }
func (s *Store) Users() store.UserRepository { return users{s} }
func (s *Store) ScheduledPayments() store.ScheduledPaymentRepository { return payments{s} }

// WithinTx serializes fn against every other transaction and restores the prior state on error.
// A nested call rolls back only its own changes, like a savepoint.
func (s *Store) WithinTx(ctx context.Context, fn func(store.Store) error) error {
	if s.inTx {
		snapshot := s.state.clone() // Outer lock already held
		if err := fn(s); err != nil {
			*s.state = *snapshot
			return err
		}
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.state.clone()
	tx := &Store{mu: s.mu, state: s.state, inTx: true, BeforeAccountCreate: s.BeforeAccountCreate, Now: s.Now}
	if err := fn(tx); err != nil {
		*s.state = *snapshot
		return err
	}
	return nil
}

// TotalBalance sums every account balance
func (s *Store) TotalBalance() decimal.Decimal {
	defer s.lock()()
	sum := decimal.Zero
	for _, a := range s.state.accounts {
		sum = sum.Add(a.Balance)
	}
	return sum
}

// AllTransactions returns the log in insertion order
func (s *Store) AllTransactions() []domain.Transaction {
	defer s.lock()()
	return append([]domain.Transaction(nil), s.state.transactions...)
}

type accounts struct{ s *Store }

func (r accounts) Create(_ context.Context, acc *domain.Account) error {
	defer r.s.lock()()
	if r.s.BeforeAccountCreate != nil {
		if err := r.s.BeforeAccountCreate(acc); err != nil {
			return err
		}
	}
	acc.AccountNumber = codec.Normalize(acc.AccountNumber)
	acc.IBAN = codec.Normalize(acc.IBAN)
	for _, a := range r.s.state.accounts {
		if a.AccountNumber == acc.AccountNumber || a.IBAN == acc.IBAN {
			return store.Duplicate("account")
		}
	}
	acc.ID = r.s.state.id()
	acc.CreatedAt = r.s.Now()
	acc.AccountNumberHash = codec.Hash(acc.AccountNumber)
	acc.IBANHash = codec.Hash(acc.IBAN)
	r.s.state.accounts[acc.ID] = *acc
	return nil
}

func (r accounts) FindByID(_ context.Context, id uint) (*domain.Account, error) {
	defer r.s.lock()()
	a, ok := r.s.state.accounts[id]
	if !ok {
		return nil, store.NotFound("account")
	}
	return &a, nil
}

func (r accounts) FindByOwnerID(_ context.Context, userID uint) ([]domain.Account, error) {
	defer r.s.lock()()
	out := []domain.Account{}
	for _, a := range r.s.state.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r accounts) FindByAccountNumber(_ context.Context, accountNumber string) (*domain.Account, error) {
	return r.find(func(a domain.Account) bool { return a.AccountNumber == codec.Normalize(accountNumber) })
}

func (r accounts) FindByIBAN(_ context.Context, iban string) (*domain.Account, error) {
	return r.find(func(a domain.Account) bool { return a.IBAN == codec.Normalize(iban) })
}

func (r accounts) find(match func(domain.Account) bool) (*domain.Account, error) {
	defer r.s.lock()()
	for _, a := range r.s.state.accounts {
		if match(a) {
			return &a, nil
		}
	}
	return nil, store.NotFound("account")
}

func (r accounts) LockByIDs(_ context.Context, ids ...uint) ([]domain.Account, error) {
	defer r.s.lock()()
	out := []domain.Account{}
	seen := map[uint]bool{}
	for _, id := range ids {
		if a, ok := r.s.state.accounts[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r accounts) UpdateBalance(_ context.Context, id uint, balance decimal.Decimal) error {
	defer r.s.lock()()
	a, ok := r.s.state.accounts[id]
	if !ok {
		return store.NotFound("account")
	}
	a.Balance = balance
	r.s.state.accounts[id] = a
	return nil
}

// Delete mirrors the foreign keys: log legs are set to nil, scheduled payments are removed
func (r accounts) Delete(_ context.Context, id uint) error {
	defer r.s.lock()()
	if _, ok := r.s.state.accounts[id]; !ok {
		return store.NotFound("account")
	}
	delete(r.s.state.accounts, id)
	for i := range r.s.state.transactions {
		t := &r.s.state.transactions[i]
		if t.FromAccountID != nil && *t.FromAccountID == id {
			t.FromAccountID = nil
		}
		if t.ToAccountID != nil && *t.ToAccountID == id {
			t.ToAccountID = nil
		}
	}
	for pid, p := range r.s.state.payments {
		if p.AccountID == id {
			delete(r.s.state.payments, pid)
		}
	}
	return nil
}

func (r accounts) List(_ context.Context, limit, offset int) ([]domain.Account, int64, error) {
	defer r.s.lock()()
	all := make([]domain.Account, 0, len(r.s.state.accounts))
	for _, a := range r.s.state.accounts {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return page(all, limit, offset), int64(len(all)), nil
}

type transactions struct{ s *Store }

func (r transactions) Create(_ context.Context, t *domain.Transaction) error {
	defer r.s.lock()()
	t.ID = r.s.state.id()
	t.Timestamp = r.s.Now()
	if t.Status == "" {
		t.Status = domain.StatusCompleted
	}
	row := *t
	row.FromAccountID = copyID(t.FromAccountID)
	row.ToAccountID = copyID(t.ToAccountID)
	r.s.state.transactions = append(r.s.state.transactions, row)
	return nil
}

func (r transactions) FindByAccountID(_ context.Context, accountID uint, f store.Filter) ([]domain.TransactionView, int64, error) {
	return r.find(f, func(t domain.Transaction) bool {
		return idIs(t.FromAccountID, accountID) || idIs(t.ToAccountID, accountID)
	})
}

func (r transactions) FindByUserID(_ context.Context, userID uint, f store.Filter) ([]domain.TransactionView, int64, error) {
	return r.find(f, func(t domain.Transaction) bool {
		return r.ownedBy(t.FromAccountID, userID) || r.ownedBy(t.ToAccountID, userID)
	})
}

func (r transactions) List(_ context.Context, f store.Filter) ([]domain.TransactionView, int64, error) {
	return r.find(f, func(domain.Transaction) bool { return true })
}

func (r transactions) ownedBy(id *uint, userID uint) bool {
	if id == nil {
		return false
	}
	a, ok := r.s.state.accounts[*id]
	return ok && a.UserID == userID
}

func (r transactions) find(f store.Filter, match func(domain.Transaction) bool) ([]domain.TransactionView, int64, error) {
	defer r.s.lock()()
	var rows []domain.Transaction
	for _, t := range r.s.state.transactions {
		if !match(t) {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.From != nil && t.Timestamp.Before(*f.From) {
			continue
		}
		if f.To != nil && t.Timestamp.After(*f.To) {
			continue
		}
		rows = append(rows, t)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Timestamp.After(rows[j].Timestamp)
		}
		return rows[i].ID > rows[j].ID
	})
	total := int64(len(rows))
	rows = page(rows, f.Limit, f.Offset)

	views := make([]domain.TransactionView, 0, len(rows))
	for _, t := range rows {
		views = append(views, domain.NewTransactionView(t,
			r.accountNumber(t.FromAccountID), r.accountNumber(t.ToAccountID),
			codec.Normalize(domain.Deref(t.ExternalFromIBAN)), codec.Normalize(domain.Deref(t.ExternalToIBAN))))
	}
	return views, total, nil
}

func (r transactions) accountNumber(id *uint) string {
	if id == nil {
		return ""
	}
	return r.s.state.accounts[*id].AccountNumber
}

type users struct{ s *Store }

func (r users) Create(_ context.Context, u *domain.User) error {
	defer r.s.lock()()
	for _, existing := range r.s.state.users {
		if strings.EqualFold(existing.Email, u.Email) || existing.Username == u.Username {
			return store.Duplicate("user")
		}
	}
	u.ID = r.s.state.id()
	u.CreatedAt = r.s.Now()
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	r.s.state.users[u.ID] = *u
	return nil
}

func (r users) FindByID(_ context.Context, id uint) (*domain.User, error) {
	defer r.s.lock()()
	u, ok := r.s.state.users[id]
	if !ok {
		return nil, store.NotFound("user")
	}
	return &u, nil
}

func (r users) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	defer r.s.lock()()
	for _, u := range r.s.state.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			return &u, nil
		}
	}
	return nil, store.NotFound("user")
}

func (r users) SetTwoFactorSecret(_ context.Context, id uint, secret string) error {
	return r.update(id, func(u *domain.User) {
		u.TwoFactorSecret = &secret
		u.TwoFactorEnabled = false
		u.TwoFactorVerifiedAt = nil
	})
}

func (r users) EnableTwoFactor(_ context.Context, id uint, at time.Time) error {
	return r.update(id, func(u *domain.User) {
		u.TwoFactorEnabled = true
		u.TwoFactorVerifiedAt = &at
	})
}

func (r users) DisableTwoFactor(_ context.Context, id uint) error {
	return r.update(id, func(u *domain.User) {
		u.TwoFactorSecret = nil
		u.TwoFactorEnabled = false
		u.TwoFactorVerifiedAt = nil
	})
}

func (r users) update(id uint, fn func(*domain.User)) error {
	defer r.s.lock()()
	u, ok := r.s.state.users[id]
	if !ok {
		return store.NotFound("user")
	}
	fn(&u)
	r.s.state.users[id] = u
	return nil
}

func (r users) List(_ context.Context, limit, offset int) ([]domain.User, int64, error) {
	defer r.s.lock()()
	all := make([]domain.User, 0, len(r.s.state.users))
	for _, u := range r.s.state.users {
		u.TwoFactorSecret = nil
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, limit, offset), int64(len(all)), nil
}

type payments struct{ s *Store }

func (r payments) Create(_ context.Context, p *domain.ScheduledPayment) error {
	defer r.s.lock()()
	p.ID = r.s.state.id()
	p.PayeeIBAN = codec.Normalize(p.PayeeIBAN)
	p.PayeeIBANHash = codec.Hash(p.PayeeIBAN)
	p.CreatedAt = r.s.Now()
	p.UpdatedAt = p.CreatedAt
	if p.Status == "" {
		p.Status = domain.ScheduleActive
	}
	r.s.state.payments[p.ID] = *p
	return nil
}

func (r payments) FindByOwnerID(_ context.Context, userID uint) ([]domain.ScheduledPayment, error) {
	defer r.s.lock()()
	out := []domain.ScheduledPayment{}
	for _, p := range r.s.state.payments {
		if p.UserID == userID {
			p.AccountNumber = r.s.state.accounts[p.AccountID].AccountNumber
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r payments) DeleteForOwner(_ context.Context, id, userID uint) (*domain.ScheduledPayment, error) {
	defer r.s.lock()()
	p, ok := r.s.state.payments[id]
	if !ok || p.UserID != userID {
		return nil, store.NotFound("scheduled payment")
	}
	delete(r.s.state.payments, id)
	return &p, nil
}

func (r payments) DueIDs(_ context.Context, now time.Time, limit int) ([]uint, error) {
	defer r.s.lock()()
	var due []domain.ScheduledPayment
	for _, p := range r.s.state.payments {
		if p.Due(now) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextRun.Equal(*due[j].NextRun) {
			return due[i].NextRun.Before(*due[j].NextRun)
		}
		return due[i].ID < due[j].ID
	})
	due = page(due, limit, 0)
	ids := make([]uint, 0, len(due))
	for _, p := range due {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (r payments) LockDue(_ context.Context, id uint, now time.Time) (*domain.ScheduledPayment, error) {
	defer r.s.lock()()
	p, ok := r.s.state.payments[id]
	if !ok || !p.Due(now) {
		return nil, store.NotFound("scheduled payment")
	}
	return &p, nil
}

func (r payments) SaveRun(_ context.Context, p *domain.ScheduledPayment) error {
	defer r.s.lock()()
	cur, ok := r.s.state.payments[p.ID]
	if !ok {
		return store.NotFound("scheduled payment")
	}
	cur.Status = p.Status
	cur.NextRun = p.NextRun
	cur.LastRunAt = p.LastRunAt
	cur.LastError = p.LastError
	cur.UpdatedAt = r.s.Now()
	r.s.state.payments[p.ID] = cur
	return nil
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

func copyID(id *uint) *uint {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func idIs(id *uint, want uint) bool { return id != nil && *id == want }
