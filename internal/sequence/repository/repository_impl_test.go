package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/emissor/internal/sequence/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto&_pragma=busy_timeout(10000)", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Sequence{}))
	return db
}

func TestNext_StartsAtOneAndIncrements(t *testing.T) {
	db := setupDB(t)
	alloc := NewAllocator(db)
	issuerID := snowflake.ID(100)

	for want := int64(1); want <= 5; want++ {
		var got int64
		err := db.Transaction(func(tx *gorm.DB) error {
			var err error
			got, err = alloc.Next(context.Background(), tx, issuerID)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestNext_IndependentPerIssuer(t *testing.T) {
	db := setupDB(t)
	alloc := NewAllocator(db)

	err := db.Transaction(func(tx *gorm.DB) error {
		n, err := alloc.Next(context.Background(), tx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = alloc.Next(context.Background(), tx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = alloc.Next(context.Background(), tx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		return nil
	})
	require.NoError(t, err)
}

func TestNext_RollbackReleasesNumber(t *testing.T) {
	db := setupDB(t)
	alloc := NewAllocator(db)
	issuerID := snowflake.ID(7)

	err := db.Transaction(func(tx *gorm.DB) error {
		n, err := alloc.Next(context.Background(), tx, issuerID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return fmt.Errorf("force rollback")
	})
	require.Error(t, err)

	var got int64
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		got, err = alloc.Next(context.Background(), tx, issuerID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "rolled back allocation must not burn the number")
}

func TestNext_ConcurrentAllocationsAreUnique(t *testing.T) {
	db := setupDB(t)
	alloc := NewAllocator(db)
	issuerID := snowflake.ID(42)

	const workers = 5
	results := make([]int64, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.Transaction(func(tx *gorm.DB) error {
				n, err := alloc.Next(context.Background(), tx, issuerID)
				results[i] = n
				return err
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
	}

	sort.Slice(results, func(a, b int) bool { return results[a] < results[b] })
	for i := 0; i < workers; i++ {
		assert.Equal(t, int64(i+1), results[i], "allocations must be dense and unique")
	}
}

func TestCurrent(t *testing.T) {
	db := setupDB(t)
	alloc := NewAllocator(db)

	n, err := alloc.Current(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := alloc.Next(context.Background(), tx, 9)
		return err
	}))

	n, err = alloc.Current(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
