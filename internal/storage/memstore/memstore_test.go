package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"quorum/internal/models"
	"quorum/internal/storage"
)

func TestUsers_ApplyPatchTouchesNamedColumns(t *testing.T) {
	ctx := context.Background()
	st := New()

	u := &models.User{Username: "ann", Email: "ann@example.org"}
	require.NoError(t, st.Users().Save(ctx, u))

	banned := true
	require.NoError(t, st.Users().ApplyPatch(ctx, u.ID, storage.UserChanges{Banned: &banned}))

	got, err := st.Users().Get(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.Banned)
	require.Equal(t, "ann", got.Username)
	require.Equal(t, "ann@example.org", got.Email)
	require.Equal(t, models.RoleUser, got.Role)
	require.Equal(t, models.PlanFree, got.Plan)

	err = st.Users().ApplyPatch(ctx, u.ID+100, storage.UserChanges{Banned: &banned})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := New()
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx storage.Store) error {
		require.NoError(t, tx.Users().Save(ctx, &models.User{Username: "gone", Email: "gone@example.org"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	ids, err := st.Users().ListIDsAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Empty(t, ids)
}
