package db

import (
	"context" // Cancellation
	"fmt"     // Error formatting

	"banking_system/internal/codec"  // Field encryption
	"banking_system/internal/domain" // Importing domain models

	"github.com/sirupsen/logrus" // Logrus for structured logging
	"gorm.io/gorm"               // GORM ORM library
)

const backfillBatch = 200 // Rows read per backfill query

// Migrate performs automatic migration for the database schema
func Migrate(db *gorm.DB) error {
	// AutoMigrate will create tables, missing foreign keys, constraints, columns and indexes
	err := db.AutoMigrate(&domain.User{}, &domain.Account{}, &domain.Transaction{}, &domain.ScheduledPayment{})
	if err != nil {
		return fmt.Errorf("db: migration failed: %w", err)
	}
	logrus.Info("Migration completed.") // Log successful migration
	return nil
}

// sealedColumn is a column that must hold ciphertext at rest
type sealedColumn struct {
	table      string    // Table name
	column     string    // Value column
	hashColumn string    // Lookup hash column, empty when the value is never searched
	tag        codec.Tag // Ciphertext tag
	identifier bool      // Normalize before sealing
}

// sealedColumns lists every column Backfill rewrites
var sealedColumns = []sealedColumn{
	{table: "accounts", column: "account_number", hashColumn: "account_number_hash", tag: codec.TagAccountNumber, identifier: true},
	{table: "accounts", column: "iban", hashColumn: "iban_hash", tag: codec.TagIBAN, identifier: true},
	{table: "transactions", column: "external_from_iban", tag: codec.TagIBAN, identifier: true},
	{table: "transactions", column: "external_to_iban", tag: codec.TagIBAN, identifier: true},
	{table: "scheduled_payments", column: "payee_iban", hashColumn: "payee_iban_hash", tag: codec.TagIBAN, identifier: true},
	{table: "users", column: "two_factor_secret", tag: codec.TagSecret},
}

// storedValue is one row of a sealed column
type storedValue struct {
	ID    uint
	Value *string
}

// Backfill seals values written before encryption was enabled. It is idempotent: values that
// already carry a tag are left alone. It returns the number of rewritten values.
func Backfill(ctx context.Context, db *gorm.DB, c *codec.Codec) (int, error) {
	total := 0
	for _, col := range sealedColumns {
		n, err := backfillColumn(ctx, db, c, col)
		if err != nil {
			return total, fmt.Errorf("db: backfill %s.%s: %w", col.table, col.column, err)
		}
		if n > 0 {
			logrus.WithFields(logrus.Fields{
				"table":  col.table,
				"column": col.column,
				"sealed": n,
			}).Info("Backfilled plaintext values")
		}
		total += n
	}
	return total, nil
}

// backfillColumn walks one column in id order and seals every plaintext value
func backfillColumn(ctx context.Context, db *gorm.DB, c *codec.Codec, col sealedColumn) (int, error) {
	var (
		lastID uint // Keyset cursor
		sealed int  // Rewritten values
	)
	for {
		var rows []storedValue
		err := db.WithContext(ctx).Table(col.table).
			Select("id, "+col.column+" AS value").
			Where("id > ?", lastID).
			Order("id").
			Limit(backfillBatch).
			Scan(&rows).Error
		if err != nil {
			return sealed, err
		}
		for _, row := range rows {
			lastID = row.ID
			if row.Value == nil || !codec.NeedsBackfill(*row.Value) {
				continue // Empty or already sealed
			}
			updates, err := sealUpdates(c, col, *row.Value)
			if err != nil {
				return sealed, err
			}
			if err := db.WithContext(ctx).Table(col.table).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
				return sealed, err
			}
			sealed++
		}
		if len(rows) < backfillBatch {
			return sealed, nil // Last page
		}
	}
}

// sealUpdates builds the column updates replacing plain with its sealed form
func sealUpdates(c *codec.Codec, col sealedColumn, plain string) (map[string]any, error) {
	var (
		value string
		err   error
	)
	if col.identifier {
		plain = codec.Normalize(plain)
		value, err = c.SealIdentifier(col.tag, plain)
	} else {
		value, err = c.Seal(col.tag, plain)
	}
	if err != nil {
		return nil, err
	}
	updates := map[string]any{col.column: value}
	if col.hashColumn != "" {
		updates[col.hashColumn] = codec.Hash(plain) // Keep lookups working
	}
	return updates, nil
}
