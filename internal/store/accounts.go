package store

import (
	"context"

	"banking_system/internal/codec"
	"banking_system/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type accountRepository struct {
	db    *gorm.DB
	codec *codec.Codec
}

// Create seals the identifiers, stores the account and keeps the plaintext on acc
func (r *accountRepository) Create(ctx context.Context, acc *domain.Account) error {
	number, err := r.codec.SealIdentifier(codec.TagAccountNumber, acc.AccountNumber)
	if err != nil {
		return err
	}
	iban, err := r.codec.SealIdentifier(codec.TagIBAN, acc.IBAN)
	if err != nil {
		return err
	}
	acc.AccountNumber = codec.Normalize(acc.AccountNumber)
	acc.IBAN = codec.Normalize(acc.IBAN)
	acc.AccountNumberCipher = number
	acc.AccountNumberHash = codec.Hash(acc.AccountNumber)
	acc.IBANCipher = iban
	acc.IBANHash = codec.Hash(acc.IBAN)
	return mapError(r.db.WithContext(ctx).Create(acc).Error, "account")
}

func (r *accountRepository) FindByID(ctx context.Context, id uint) (*domain.Account, error) {
	var acc domain.Account
	if err := r.db.WithContext(ctx).First(&acc, id).Error; err != nil {
		return nil, mapError(err, "account")
	}
	return r.open(&acc), nil
}

// FindByOwnerID returns the owner's accounts, newest first
func (r *accountRepository) FindByOwnerID(ctx context.Context, userID uint) ([]domain.Account, error) {
	var accs []domain.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC").Find(&accs).Error
	if err != nil {
		return nil, err
	}
	return r.openAll(accs), nil
}

func (r *accountRepository) FindByAccountNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return r.findByHash(ctx, "account_number_hash", accountNumber)
}

func (r *accountRepository) FindByIBAN(ctx context.Context, iban string) (*domain.Account, error) {
	return r.findByHash(ctx, "iban_hash", iban)
}

func (r *accountRepository) findByHash(ctx context.Context, column, plain string) (*domain.Account, error) {
	h := codec.Hash(plain)
	if h == "" {
		return nil, NotFound("account")
	}
	var acc domain.Account
	if err := r.db.WithContext(ctx).Where(column+" = ?", h).First(&acc).Error; err != nil {
		return nil, mapError(err, "account")
	}
	return r.open(&acc), nil
}

// LockByIDs takes row locks in ascending id order so concurrent movements cannot deadlock
func (r *accountRepository) LockByIDs(ctx context.Context, ids ...uint) ([]domain.Account, error) {
	var accs []domain.Account
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id").
		Find(&accs).Error
	if err != nil {
		return nil, err
	}
	return r.openAll(accs), nil
}

// UpdateBalance overwrites the balance. Callers hold the row lock and have checked funds.
func (r *accountRepository) UpdateBalance(ctx context.Context, id uint, balance decimal.Decimal) error {
	// RowsAffected is not checked: MySQL reports 0 when the value is unchanged
	return r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).Update("balance", balance).Error
}

// Delete hard deletes the account; log rows keep their history with the leg set to NULL
func (r *accountRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&domain.Account{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return NotFound("account")
	}
	return nil
}

func (r *accountRepository) List(ctx context.Context, limit, offset int) ([]domain.Account, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.Account{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var accs []domain.Account
	if err := paginate(r.db.WithContext(ctx), limit, offset).Order("id DESC").Find(&accs).Error; err != nil {
		return nil, 0, err
	}
	return r.openAll(accs), total, nil
}

// open fills the plaintext identifiers from the sealed columns
func (r *accountRepository) open(acc *domain.Account) *domain.Account {
	acc.AccountNumber, _ = r.codec.Open(acc.AccountNumberCipher)
	acc.IBAN, _ = r.codec.Open(acc.IBANCipher)
	return acc
}

func (r *accountRepository) openAll(accs []domain.Account) []domain.Account {
	for i := range accs {
		r.open(&accs[i])
	}
	return accs
}
