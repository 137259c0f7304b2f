package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rpattn/certrecon/internal/backup"
	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/repository"
	"github.com/rpattn/certrecon/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type mutatorFixture struct {
	store      *memstore.Store
	mutator    *Mutator
	reconciler *Reconciler
	undo       *recordingUndo
	handle     backup.Handle
}

func newMutatorFixture() *mutatorFixture {
	store := memstore.New()
	lookup := RepositoryLookup{Organizations: store.Organizations, Products: store.Products}
	return &mutatorFixture{
		store:      store,
		mutator:    NewMutator(store.Organizations, store.Products, store.Audit, quietLogger()),
		reconciler: NewReconciler(lookup, lookup),
		undo:       &recordingUndo{},
		handle:     backup.Skip(uuid.New()),
	}
}

func (f *mutatorFixture) decide(t *testing.T, rowNumber int, row domain.NormalizedRow) domain.ReconciliationDecision {
	t.Helper()
	decision, err := f.reconciler.Decide(context.Background(), Extract(rowNumber, row))
	require.NoError(t, err)
	return decision
}

func (f *mutatorFixture) apply(t *testing.T, decision domain.ReconciliationDecision) RowOutcome {
	t.Helper()
	outcome, err := f.mutator.Apply(context.Background(), f.handle, decision, "tester", f.undo)
	require.NoError(t, err)
	return outcome
}

func TestApplyRequiresReadyHandle(t *testing.T) {
	f := newMutatorFixture()
	decision := f.decide(t, 1, certificateRow("20111111111", "P-1", date(2024, time.June, 1)))

	_, err := f.mutator.Apply(context.Background(), backup.Handle{}, decision, "tester", f.undo)
	require.ErrorIs(t, err, ErrSnapshotRequired)
	require.Zero(t, f.store.Organizations.Len())
}

func TestApplyInsertBoth(t *testing.T) {
	f := newMutatorFixture()
	decision := f.decide(t, 1, certificateRow("20111111111", "P-1", date(2024, time.June, 1)))
	require.Equal(t, domain.ActionInsertBoth, decision.Action)

	outcome := f.apply(t, decision)
	require.NoError(t, outcome.Err)
	require.Nil(t, outcome.SkipReason)
	require.Equal(t, 2, outcome.Inserted)
	require.Zero(t, outcome.Updated)

	org, err := f.store.Organizations.GetByIdentifier(context.Background(), "20111111111")
	require.NoError(t, err)
	product, err := f.store.Products.GetByCode(context.Background(), "P-1")
	require.NoError(t, err)
	require.Equal(t, "20111111111", product.OrganizationIdentifier)

	require.Equal(t, 2, f.store.Audit.Len())
	entries, err := f.store.Audit.ListByEntity(context.Background(), domain.EntityOrganization, org.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.AuditInsert, entries[0].Operation)
	require.Equal(t, "tester", entries[0].Actor)
	require.Equal(t, f.handle.BatchID(), *entries[0].BatchID)

	require.Len(t, f.undo.entries, 2)
	require.Equal(t, domain.UndoInsertOrganization, f.undo.entries[0].ActionType)
	require.Equal(t, org.ID, f.undo.entries[0].Payload.EntityID)
	require.Equal(t, domain.UndoInsertProduct, f.undo.entries[1].ActionType)
	require.Equal(t, product.ID, f.undo.entries[1].Payload.EntityID)
}

func TestApplyUpdateBothRecordsDiff(t *testing.T) {
	ctx := context.Background()
	f := newMutatorFixture()
	stored := date(2024, time.January, 1)
	_, err := f.store.Organizations.Create(ctx, domain.Organization{
		Identifier: "20111111111", LegalName: "Acme", Email: "old@example.test", CreatedAt: stored, UpdatedAt: stored,
	})
	require.NoError(t, err)
	_, err = f.store.Products.Create(ctx, domain.Product{
		Code: "P-1", OrganizationIdentifier: "20111111111", CertificationType: "IRAM", CreatedAt: stored, UpdatedAt: stored,
	})
	require.NoError(t, err)

	row := domain.NormalizedRow{
		domain.FieldEmissionDate:            date(2024, time.June, 1),
		domain.FieldOrgIdentifier:           "20111111111",
		domain.FieldOrgEmail:                "new@example.test",
		domain.FieldProductCode:             "P-1",
		domain.FieldProductResponsibleParty: "Ing. Perez",
	}
	decision := f.decide(t, 1, row)
	require.Equal(t, domain.ActionUpdateBoth, decision.Action)

	outcome := f.apply(t, decision)
	require.NoError(t, outcome.Err)
	require.Equal(t, 2, outcome.Updated)
	require.Zero(t, outcome.Inserted)
	require.Empty(t, f.undo.entries)

	org, err := f.store.Organizations.GetByIdentifier(ctx, "20111111111")
	require.NoError(t, err)
	require.Equal(t, "new@example.test", org.Email)
	require.Equal(t, "Acme", org.LegalName)

	product, err := f.store.Products.GetByCode(ctx, "P-1")
	require.NoError(t, err)
	require.Equal(t, "Ing. Perez", product.ResponsibleParty)
	require.Equal(t, "IRAM", product.CertificationType)

	entries, err := f.store.Audit.ListByEntity(ctx, domain.EntityOrganization, org.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.AuditUpdate, entries[0].Operation)
	require.Equal(t, []domain.FieldDifference{
		{Field: domain.FieldOrgEmail, OldValue: "old@example.test", NewValue: "new@example.test"},
	}, entries[0].Changes)
}

func TestApplyStaleWriteIsReported(t *testing.T) {
	ctx := context.Background()
	f := newMutatorFixture()
	stored := date(2024, time.January, 1)
	org, err := f.store.Organizations.Create(ctx, domain.Organization{
		Identifier: "20111111111", LegalName: "Acme", CreatedAt: stored, UpdatedAt: stored,
	})
	require.NoError(t, err)

	decision := f.decide(t, 1, certificateRow("20111111111", "P-1", date(2024, time.June, 1)))
	require.Equal(t, domain.ActionUpdateOrgInsertProduct, decision.Action)

	// Someone else writes the organization between check and apply.
	org.LegalName = "Acme Updated"
	_, err = f.store.Organizations.Update(ctx, org, stored)
	require.NoError(t, err)

	outcome := f.apply(t, decision)
	require.Error(t, outcome.Err)
	require.NotNil(t, outcome.SkipReason)
	require.Equal(t, domain.SkipStaleWrite, *outcome.SkipReason)
	require.Zero(t, outcome.Updated)

	current, err := f.store.Organizations.GetByIdentifier(ctx, "20111111111")
	require.NoError(t, err)
	require.Equal(t, "Acme Updated", current.LegalName)

	// The product side does not depend on the organization write.
	require.Equal(t, 1, outcome.Inserted)
	require.Equal(t, 1, f.store.Products.Len())
}

func TestApplySiblingInsertIsNotDuplicated(t *testing.T) {
	f := newMutatorFixture()
	first := f.decide(t, 1, certificateRow("20111111111", "P-1", date(2024, time.June, 1)))
	second := f.decide(t, 2, certificateRow("20111111111", "P-2", date(2024, time.June, 1)))
	require.Equal(t, domain.ActionInsertBoth, second.Action)

	require.Equal(t, 2, f.apply(t, first).Inserted)

	outcome := f.apply(t, second)
	require.NoError(t, outcome.Err)
	require.Nil(t, outcome.SkipReason)
	require.Equal(t, 1, outcome.Inserted)

	require.Equal(t, 1, f.store.Organizations.Len())
	require.Equal(t, 2, f.store.Products.Len())
	require.Equal(t, 3, f.store.Audit.Len())
	require.Equal(t, 3, f.undo.Len())
}

func TestApplyNonWritingActions(t *testing.T) {
	f := newMutatorFixture()

	skip := f.apply(t, domain.ReconciliationDecision{Action: domain.ActionSkip, Extraction: domain.ExtractionResult{RowNumber: 1}})
	require.Equal(t, domain.SkipNotNewer, *skip.SkipReason)

	incomplete := f.apply(t, domain.ReconciliationDecision{Action: domain.ActionNeedsCompletion, Extraction: domain.ExtractionResult{RowNumber: 2}})
	require.Equal(t, domain.SkipIncompleteOrganization, *incomplete.SkipReason)

	empty := f.apply(t, domain.ReconciliationDecision{Action: domain.ActionInsertBoth, Extraction: domain.ExtractionResult{RowNumber: 3}})
	require.Equal(t, domain.SkipEmptyRecord, *empty.SkipReason)
	require.NoError(t, empty.Err)

	require.Zero(t, f.store.Organizations.Len())
	require.Zero(t, f.store.Products.Len())
	require.Zero(t, f.store.Audit.Len())
}

func TestApplyWithinBatchComparesAgainstBatchWrite(t *testing.T) {
	ctx := context.Background()
	stored := date(2023, time.January, 1)

	newer := certificateRow("20111111111", "P-1", date(2024, time.June, 1))
	newer[domain.FieldOrgEmail] = "june@example.test"
	older := certificateRow("20111111111", "P-2", date(2024, time.May, 1))
	older[domain.FieldOrgEmail] = "may@example.test"

	for _, tc := range []struct {
		name          string
		order         []int
		wantSuperseded bool
	}{
		{name: "newer row first", order: []int{0, 1}, wantSuperseded: true},
		{name: "older row first", order: []int{1, 0}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newMutatorFixture()
			_, err := f.store.Organizations.Create(ctx, domain.Organization{
				Identifier: "20111111111", LegalName: "Acme", CreatedAt: stored, UpdatedAt: stored,
			})
			require.NoError(t, err)

			decisions := []domain.ReconciliationDecision{f.decide(t, 1, newer), f.decide(t, 2, older)}
			for _, d := range decisions {
				require.Equal(t, domain.ActionUpdateOrgInsertProduct, d.Action)
			}

			writes := newBatchWrites()
			outcomes := make([]RowOutcome, len(decisions))
			for _, i := range tc.order {
				outcome, err := f.mutator.apply(ctx, f.handle, decisions[i], "tester", f.undo, writes)
				require.NoError(t, err)
				require.NoError(t, outcome.Err)
				require.Nil(t, outcome.SkipReason)
				require.Equal(t, 1, outcome.Inserted)
				outcomes[i] = outcome
			}

			if tc.wantSuperseded {
				require.Zero(t, outcomes[1].Updated)
			} else {
				require.Equal(t, 1, outcomes[0].Updated)
				require.Equal(t, 1, outcomes[1].Updated)
			}

			current, err := f.store.Organizations.GetByIdentifier(ctx, "20111111111")
			require.NoError(t, err)
			require.Equal(t, "june@example.test", current.Email)
			require.Equal(t, 2, f.store.Products.Len())
		})
	}
}

func TestApplyWithinBatchSupersededRowIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newMutatorFixture()
	stored := date(2023, time.January, 1)
	_, err := f.store.Organizations.Create(ctx, domain.Organization{Identifier: "20111111111", CreatedAt: stored, UpdatedAt: stored})
	require.NoError(t, err)

	orgOnly := func(emission time.Time) domain.NormalizedRow {
		row := certificateRow("20111111111", "", emission)
		for _, field := range []string{domain.FieldProductCode, domain.FieldProductResponsibleParty, domain.FieldProductCertificationType, domain.FieldProductExpiryDate} {
			delete(row, field)
		}
		return row
	}
	first := f.decide(t, 1, orgOnly(date(2024, time.June, 1)))
	second := f.decide(t, 2, orgOnly(date(2024, time.May, 1)))

	writes := newBatchWrites()
	outcome, err := f.mutator.apply(ctx, f.handle, first, "tester", f.undo, writes)
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Updated)

	outcome, err = f.mutator.apply(ctx, f.handle, second, "tester", f.undo, writes)
	require.NoError(t, err)
	require.NoError(t, outcome.Err)
	require.Zero(t, outcome.Updated)
	require.NotNil(t, outcome.SkipReason)
	require.Equal(t, domain.SkipNotNewer, *outcome.SkipReason)
}

func TestFailedClassifiesErrors(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want domain.SkipReason
	}{
		{err: fmt.Errorf("update organization x: %w", repository.ErrStaleWrite), want: domain.SkipStaleWrite},
		{err: fmt.Errorf("insert product x: %w", context.Canceled), want: domain.SkipCancelled},
		{err: fmt.Errorf("insert product x: %w", context.DeadlineExceeded), want: domain.SkipCancelled},
		{err: errors.Join(errors.New("boom"), fmt.Errorf("wrapped: %w", repository.ErrStaleWrite)), want: domain.SkipStaleWrite},
		{err: errors.New("connection reset"), want: domain.SkipStoreError},
	} {
		outcome := failed(RowOutcome{}, tc.err)
		require.ErrorIs(t, outcome.Err, tc.err)
		require.Equal(t, tc.want, *outcome.SkipReason, tc.err.Error())
	}
}
