package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestOrganizationsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	store := New(WithClock(func() time.Time { return now }))

	created, err := store.Organizations.Create(ctx, domain.Organization{Identifier: "20111111111", LegalName: "Acme"})
	require.NoError(t, err)
	require.Equal(t, now, created.CreatedAt)
	require.Equal(t, now, created.UpdatedAt)

	_, err = store.Organizations.Create(ctx, domain.Organization{Identifier: "20111111111"})
	require.ErrorIs(t, err, repository.ErrDuplicateKey)

	now = now.Add(time.Hour)
	next := created
	next.LegalName = "Acme SA"
	next.Identifier = "ignored"
	updated, err := store.Organizations.Update(ctx, next, created.UpdatedAt)
	require.NoError(t, err)
	require.Equal(t, "20111111111", updated.Identifier)
	require.Equal(t, now, updated.UpdatedAt)

	_, err = store.Organizations.Update(ctx, next, created.UpdatedAt)
	require.ErrorIs(t, err, repository.ErrStaleWrite)

	next.ID = uuid.New()
	_, err = store.Organizations.Update(ctx, next, created.UpdatedAt)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProductsAreCopiedOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	store := New()
	expiry := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	created, err := store.Products.Create(ctx, domain.Product{Code: "P-1", ExpiryDate: &expiry})
	require.NoError(t, err)
	expiry = expiry.AddDate(1, 0, 0)
	*created.ExpiryDate = created.ExpiryDate.AddDate(0, 0, 1)

	stored, err := store.Products.GetByCode(ctx, "P-1")
	require.NoError(t, err)
	require.Equal(t, 2026, stored.ExpiryDate.Year())
}

func TestOverwriteRejectsKeyHeldByOtherRow(t *testing.T) {
	ctx := context.Background()
	store := New()
	_, err := store.Products.Create(ctx, domain.Product{Code: "P-1"})
	require.NoError(t, err)

	err = store.Products.Overwrite(ctx, domain.Product{ID: uuid.New(), Code: "P-1"})
	require.ErrorIs(t, err, repository.ErrDuplicateKey)
}

func TestUndoListActiveNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := New(WithClock(func() time.Time { return time.Unix(0, 0) }))

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		entry, err := store.Undo.Create(ctx, domain.UndoEntry{SessionID: "s1"})
		require.NoError(t, err)
		ids = append(ids, entry.ID)
	}
	_, err := store.Undo.Create(ctx, domain.UndoEntry{SessionID: "s2"})
	require.NoError(t, err)

	active, err := store.Undo.ListActive(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, active, 3)
	require.Equal(t, ids[2], active[0].ID)
	require.Equal(t, ids[0], active[2].ID)

	require.NoError(t, store.Undo.MarkUndone(ctx, ids[2], "ana", time.Now()))
	active, err = store.Undo.ListActive(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, active, 2)
}

func TestBackupsInTxPublishesOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	store := New()
	boom := errors.New("copy failed")

	var discarded uuid.UUID
	err := store.Backups.InTx(ctx, func(tx repository.BackupRepository) error {
		snapshot, err := tx.CreateSnapshot(ctx, domain.BackupSnapshot{BatchID: uuid.New()})
		require.NoError(t, err)
		discarded = snapshot.ID
		require.NoError(t, tx.AddOrganizationRows(ctx, []domain.BackupOrgRow{{SnapshotID: snapshot.ID, OrganizationID: uuid.New()}}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = store.Backups.GetSnapshot(ctx, discarded)
	require.ErrorIs(t, err, repository.ErrNotFound)

	var kept uuid.UUID
	err = store.Backups.InTx(ctx, func(tx repository.BackupRepository) error {
		snapshot, err := tx.CreateSnapshot(ctx, domain.BackupSnapshot{BatchID: uuid.New()})
		if err != nil {
			return err
		}
		kept = snapshot.ID
		if err := tx.AddOrganizationRows(ctx, []domain.BackupOrgRow{{SnapshotID: snapshot.ID, OrganizationID: uuid.New()}}); err != nil {
			return err
		}
		// Not visible outside until fn returns.
		_, err = store.Backups.GetSnapshot(ctx, snapshot.ID)
		require.ErrorIs(t, err, repository.ErrNotFound)
		return tx.UpdateRowCounts(ctx, snapshot.ID, 1, 0)
	})
	require.NoError(t, err)

	snapshot, err := store.Backups.GetSnapshot(ctx, kept)
	require.NoError(t, err)
	require.Equal(t, 1, snapshot.OrgRowCount)
	rows, err := store.Backups.ListOrganizationRows(ctx, kept)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
