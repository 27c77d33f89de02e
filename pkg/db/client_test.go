package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

type parcel struct {
	ID  int
	AWB string `gorm:"uniqueIndex"`
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 newQueryLogger(nil, 0),
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&parcel{}))
	client := NewFromConn(conn)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func countParcels(t *testing.T, c *Client) int64 {
	t.Helper()
	var n int64
	require.NoError(t, c.DB().Model(&parcel{}).Count(&n).Error)
	return n
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&parcel{AWB: "AWB-1"}).Error
	}))
	assert.EqualValues(t, 1, countParcels(t, client))

	boom := errors.New("carrier rejected booking")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&parcel{AWB: "AWB-2"}).Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, countParcels(t, client))

	assert.Panics(t, func() {
		_ = client.WithTx(ctx, func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&parcel{AWB: "AWB-3"}).Error)
			panic("unexpected")
		})
	})
	assert.EqualValues(t, 1, countParcels(t, client))
}

func TestPing(t *testing.T) {
	assert.NoError(t, newTestClient(t).Ping(context.Background()))
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{DSN: " "}, nil)
	assert.Error(t, err)
}

func TestIsUniqueViolation(t *testing.T) {
	client := newTestClient(t)
	require.NoError(t, client.DB().Create(&parcel{AWB: "dup"}).Error)

	dupErr := client.DB().Create(&parcel{AWB: "dup"}).Error
	assert.True(t, IsUniqueViolation(dupErr, ""))
	assert.True(t, IsUniqueViolation(dupErr, "awb"))
	assert.False(t, IsUniqueViolation(dupErr, "order_number"))
	assert.False(t, IsUniqueViolation(errors.New("boom"), ""))
	assert.False(t, IsUniqueViolation(nil, ""))
}

func TestQueryLoggerReportsSlowAndFailedStatements(t *testing.T) {
	buf := &bytes.Buffer{}
	ql := newQueryLogger(logger.New(logger.Options{ServiceName: "db-test", Output: buf}), 10*time.Millisecond)
	stmt := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	ql.Trace(ctx, time.Now(), stmt, nil)
	assert.Empty(t, buf.String(), "fast statements are not logged")

	ql.Trace(ctx, time.Now(), stmt, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String(), "not found is routine")

	ql.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	assert.Contains(t, buf.String(), "slow query")

	buf.Reset()
	ql.Trace(ctx, time.Now(), stmt, errors.New("relation does not exist"))
	assert.Contains(t, buf.String(), "query failed")
	assert.Contains(t, buf.String(), "SELECT 1")
}
