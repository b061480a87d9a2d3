package store

import (
	"context"

	"banking_system/internal/codec"
	"banking_system/internal/domain"

	"gorm.io/gorm"
)

type transactionRepository struct {
	db    *gorm.DB
	codec *codec.Codec
}

// transactionRow is a log row joined with the sealed account numbers of both legs
type transactionRow struct {
	domain.Transaction
	FromAccountNumber *string `gorm:"column:from_account_number"`
	ToAccountNumber   *string `gorm:"column:to_account_number"`
}

// Create appends a row. External IBANs arrive in plaintext and are sealed here.
func (r *transactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	row := *t
	var err error
	if row.ExternalFromIBAN, err = r.sealIBAN(t.ExternalFromIBAN); err != nil {
		return err
	}
	if row.ExternalToIBAN, err = r.sealIBAN(t.ExternalToIBAN); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return mapError(err, "transaction")
	}
	t.ID = row.ID
	t.Timestamp = row.Timestamp
	t.Status = row.Status
	return nil
}

func (r *transactionRepository) sealIBAN(plain *string) (*string, error) {
	if plain == nil || *plain == "" {
		return nil, nil
	}
	sealed, err := r.codec.SealIdentifier(codec.TagIBAN, *plain)
	if err != nil {
		return nil, err
	}
	return &sealed, nil
}

func (r *transactionRepository) FindByAccountID(ctx context.Context, accountID uint, f Filter) ([]domain.TransactionView, int64, error) {
	return r.find(ctx, f, func(q *gorm.DB) *gorm.DB {
		return q.Where("(transactions.from_account_id = ? OR transactions.to_account_id = ?)", accountID, accountID)
	})
}

func (r *transactionRepository) FindByUserID(ctx context.Context, userID uint, f Filter) ([]domain.TransactionView, int64, error) {
	return r.find(ctx, f, func(q *gorm.DB) *gorm.DB {
		return q.Where("(fa.user_id = ? OR ta.user_id = ?)", userID, userID)
	})
}

func (r *transactionRepository) List(ctx context.Context, f Filter) ([]domain.TransactionView, int64, error) {
	return r.find(ctx, f, func(q *gorm.DB) *gorm.DB { return q })
}

// find runs a filtered, paginated query joined with both legs, newest first
func (r *transactionRepository) find(ctx context.Context, f Filter, scope func(*gorm.DB) *gorm.DB) ([]domain.TransactionView, int64, error) {
	base := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&domain.Transaction{}).
			Joins("LEFT JOIN accounts fa ON fa.id = transactions.from_account_id").
			Joins("LEFT JOIN accounts ta ON ta.id = transactions.to_account_id")
		q = scope(q)
		if f.Type != "" {
			q = q.Where("transactions.type = ?", f.Type)
		}
		if f.From != nil {
			q = q.Where("transactions.timestamp >= ?", *f.From)
		}
		if f.To != nil {
			q = q.Where("transactions.timestamp <= ?", *f.To)
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []transactionRow
	err := paginate(base(), f.Limit, f.Offset).
		Select("transactions.*, fa.account_number AS from_account_number, ta.account_number AS to_account_number").
		Order("transactions.timestamp DESC").
		Order("transactions.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	views := make([]domain.TransactionView, 0, len(rows))
	for _, row := range rows {
		views = append(views, domain.NewTransactionView(
			row.Transaction,
			r.codec.OpenPtr(row.FromAccountNumber),
			r.codec.OpenPtr(row.ToAccountNumber),
			r.codec.OpenPtr(row.Transaction.ExternalFromIBAN),
			r.codec.OpenPtr(row.Transaction.ExternalToIBAN),
		))
	}
	return views, total, nil
}

// paginate applies limit and offset when set
func paginate(q *gorm.DB, limit, offset int) *gorm.DB {
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}
