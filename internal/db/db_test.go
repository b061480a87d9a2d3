package db

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"banking_system/internal/codec"
	"banking_system/internal/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDb.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDb, DriverName: "postgres"}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestDialector(t *testing.T) {
	d, err := dialector(&config.Config{DBDriver: config.DriverPostgres})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	d, err = dialector(&config.Config{DBDriver: config.DriverMySQL})
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	_, err = dialector(&config.Config{DBDriver: "sqlite"})
	assert.Error(t, err)
}

func TestBackfillColumn_SealsOnlyPlaintext(t *testing.T) {
	db, mock := newMockDB(t)
	c, err := codec.New("backfill-test-secret")
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, iban AS value FROM "accounts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "value"}).
			AddRow(1, "de89 3704 0044 0532 0130 00").
			AddRow(2, "IBAN::already-sealed").
			AddRow(3, nil))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "accounts" SET`)).
		WithArgs(sqlmock.AnyArg(), codec.Hash("DE89370400440532013000"), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := backfillColumn(context.Background(), db, c, sealedColumns[1])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSealUpdates(t *testing.T) {
	c, err := codec.New("backfill-test-secret")
	require.NoError(t, err)

	// Account numbers are normalized and hashed
	updates, err := sealUpdates(c, sealedColumns[0], "  1234 5678 90 ")
	require.NoError(t, err)
	sealed := updates["account_number"].(string)
	assert.True(t, strings.HasPrefix(sealed, string(codec.TagAccountNumber)))
	plain, ok := c.Open(sealed)
	require.True(t, ok)
	assert.Equal(t, "1234567890", plain)
	assert.Equal(t, codec.Hash("1234567890"), updates["account_number_hash"])

	// Secrets keep their exact value and have no hash column
	secretCol := sealedColumns[len(sealedColumns)-1]
	updates, err = sealUpdates(c, secretCol, "jbswy3dpehpk3pxp")
	require.NoError(t, err)
	assert.Len(t, updates, 1)
	plain, ok = c.Open(updates["two_factor_secret"].(string))
	require.True(t, ok)
	assert.Equal(t, "jbswy3dpehpk3pxp", plain)
	assert.False(t, codec.NeedsBackfill(updates["two_factor_secret"].(string)))
}

func TestOpenRedis_DisabledWithoutAddress(t *testing.T) {
	client, err := OpenRedis(&config.Config{})
	require.NoError(t, err)
	assert.Nil(t, client)
}
