package storage

import (
	"cachegate/internal/models"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStorageSuite exercises the behaviour every backend must share.
func runStorageSuite(t *testing.T, newStorage func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("InvalidationsNewestFirst", func(t *testing.T) {
		s := newStorage(t)
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			rec := models.NewInvalidationRecord(fmt.Sprintf("req-%d", i), []string{"products", fmt.Sprintf("product-%d", i)},
				"price change", nil, time.Duration(i+1)*time.Millisecond)
			rec.CreatedAt = base.Add(time.Duration(i) * time.Second)
			require.NoError(t, s.RecordInvalidation(ctx, rec))
		}

		all, err := s.ListInvalidations(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "req-2", all[0].RequestID)
		assert.Equal(t, "req-0", all[2].RequestID)
		assert.Equal(t, []string{"products", "product-2"}, all[0].Tags)
		assert.Equal(t, "price change", all[0].Reason)
		assert.True(t, all[0].Success)
		assert.Equal(t, 3*time.Millisecond, all[0].Duration)
		assert.True(t, base.Add(2*time.Second).Equal(all[0].CreatedAt))

		limited, err := s.ListInvalidations(ctx, 2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, "req-2", limited[0].RequestID)
		assert.Equal(t, "req-1", limited[1].RequestID)
	})

	t.Run("FailedInvalidationKeepsError", func(t *testing.T) {
		s := newStorage(t)
		rec := models.NewInvalidationRecord("req-fail", []string{"users"}, "", errors.New("purge returned 500"), time.Second)
		require.NoError(t, s.RecordInvalidation(ctx, rec))

		got, err := s.ListInvalidations(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.False(t, got[0].Success)
		assert.Equal(t, "purge returned 500", got[0].Error)
	})

	t.Run("EmptyInvalidations", func(t *testing.T) {
		s := newStorage(t)
		got, err := s.ListInvalidations(ctx, 10)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("APIKeyLifecycle", func(t *testing.T) {
		s := newStorage(t)
		raw, err := models.GenerateAPIKey()
		require.NoError(t, err)
		key := models.NewAPIKey(models.NewKeyID(), "ci-deployer", raw, []string{models.PermissionWrite})
		key.CreatedAt = key.CreatedAt.Truncate(time.Millisecond)
		key.UpdatedAt = key.CreatedAt
		require.NoError(t, s.CreateAPIKey(ctx, key))

		got, err := s.GetAPIKeyByHash(ctx, models.HashAPIKey(raw))
		require.NoError(t, err)
		assert.Equal(t, key.ID, got.ID)
		assert.Equal(t, "ci-deployer", got.Name)
		assert.Equal(t, []string{models.PermissionWrite}, got.Permissions)
		assert.True(t, got.Enabled)
		assert.True(t, key.CreatedAt.Equal(got.CreatedAt))

		got.Enabled = false
		got.Name = "ci-deployer-old"
		got.UpdatedAt = got.UpdatedAt.Add(time.Minute)
		require.NoError(t, s.UpdateAPIKey(ctx, got))

		keys, err := s.ListAPIKeys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.False(t, keys[0].Enabled)
		assert.Equal(t, "ci-deployer-old", keys[0].Name)

		require.NoError(t, s.DeleteAPIKey(ctx, key.ID))
		_, err = s.GetAPIKeyByHash(ctx, key.KeyHash)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("APIKeyNotFound", func(t *testing.T) {
		s := newStorage(t)
		_, err := s.GetAPIKeyByHash(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		missing := models.NewAPIKey("missing-id", "ghost", "cg_ghost", []string{models.PermissionRead})
		assert.ErrorIs(t, s.UpdateAPIKey(ctx, missing), ErrNotFound)
		assert.ErrorIs(t, s.DeleteAPIKey(ctx, "missing-id"), ErrNotFound)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStorage(t)
		assert.NoError(t, s.Ping(ctx))
	})
}
