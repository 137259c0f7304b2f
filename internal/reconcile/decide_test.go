package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/repository/memstore"

	"github.com/stretchr/testify/require"
)

// allSignals enumerates every combination where "newer" implies "exists".
func allSignals() []Signals {
	var out []Signals
	for mask := 0; mask < 64; mask++ {
		s := Signals{
			OrgFragment:   mask&1 != 0,
			OrgExists:     mask&2 != 0,
			OrgNewer:      mask&4 != 0,
			OrgIncomplete: mask&8 != 0,
			ProductExists: mask&16 != 0,
			ProductNewer:  mask&32 != 0,
		}
		if (s.OrgNewer && !s.OrgExists) || (s.ProductNewer && !s.ProductExists) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func TestDecideActionTableProperties(t *testing.T) {
	signals := allSignals()
	require.Len(t, signals, 36)

	for _, s := range signals {
		action := DecideAction(s)
		require.True(t, action.Valid(), "%+v", s)

		needsCompletion := s.OrgFragment && !s.OrgExists && s.OrgIncomplete
		require.Equal(t, needsCompletion, action == domain.ActionNeedsCompletion, "%+v -> %s", s, action)

		if action.InsertsOrganization() {
			require.False(t, s.OrgExists, "%+v -> %s", s, action)
		}
		if action.UpdatesOrganization() {
			require.True(t, s.OrgExists && s.OrgNewer, "%+v -> %s", s, action)
		}
		if action.InsertsProduct() {
			require.False(t, s.ProductExists, "%+v -> %s", s, action)
		}
		if action.UpdatesProduct() {
			require.True(t, s.ProductExists && s.ProductNewer, "%+v -> %s", s, action)
		}
		if !needsCompletion && !s.OrgExists && !s.ProductExists {
			require.Equal(t, domain.ActionInsertBoth, action, "%+v", s)
		}
	}
}

func TestDecideActionRules(t *testing.T) {
	tests := []struct {
		name   string
		s      Signals
		action domain.Action
	}{
		{"incomplete new org", Signals{OrgFragment: true, OrgIncomplete: true}, domain.ActionNeedsCompletion},
		{"incomplete new org wins over newer product", Signals{OrgFragment: true, OrgIncomplete: true, ProductExists: true, ProductNewer: true}, domain.ActionNeedsCompletion},
		{"incomplete existing org is not blocked", Signals{OrgFragment: true, OrgExists: true, OrgNewer: true, OrgIncomplete: true, ProductExists: true, ProductNewer: true}, domain.ActionUpdateBoth},
		{"nothing stored", Signals{OrgFragment: true}, domain.ActionInsertBoth},
		{"both newer", Signals{OrgFragment: true, OrgExists: true, OrgNewer: true, ProductExists: true, ProductNewer: true}, domain.ActionUpdateBoth},
		{"new org, newer product", Signals{OrgFragment: true, ProductExists: true, ProductNewer: true}, domain.ActionInsertOrgUpdateProduct},
		{"newer org, new product", Signals{OrgFragment: true, OrgExists: true, OrgNewer: true}, domain.ActionUpdateOrgInsertProduct},
		{"both stale", Signals{OrgFragment: true, OrgExists: true, ProductExists: true}, domain.ActionSkip},
		{"stale org, new product", Signals{OrgFragment: true, OrgExists: true}, domain.ActionSkip},
		{"new org, stale product", Signals{OrgFragment: true, ProductExists: true}, domain.ActionSkip},
		{"newer org, stale product", Signals{OrgFragment: true, OrgExists: true, OrgNewer: true, ProductExists: true}, domain.ActionSkip},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.action, DecideAction(tc.s))
		})
	}
}

func TestIsNewerIsStrict(t *testing.T) {
	stored := date(2024, time.January, 1)
	require.True(t, IsNewer(date(2024, time.January, 2), stored))
	require.False(t, IsNewer(stored, stored))
	require.False(t, IsNewer(date(2023, time.December, 1), stored))
}

func TestDecideIncompleteNewOrganization(t *testing.T) {
	store := memstore.New()
	reconciler := NewReconciler(RepositoryLookup{Organizations: store.Organizations, Products: store.Products},
		RepositoryLookup{Organizations: store.Organizations, Products: store.Products})

	extraction := Extract(1, domain.NormalizedRow{
		domain.FieldOrgIdentifier: "20111111111",
		domain.FieldOrgLegalName:  "Acme SA",
		domain.FieldEmissionDate:  date(2024, time.June, 1),
	})

	decision, err := reconciler.Decide(context.Background(), extraction)
	require.NoError(t, err)
	require.Equal(t, domain.ActionNeedsCompletion, decision.Action)
	require.True(t, decision.IsNewOrganization)
	require.Equal(t, []string{
		domain.FieldOrgAddress,
		domain.FieldOrgEmail,
		domain.FieldOrgPhone,
		domain.FieldOrgContact,
	}, decision.MissingFields)
}

func TestDecideStaleOrganizationSkips(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	stored := date(2024, time.January, 1)
	_, err := store.Organizations.Create(ctx, domain.Organization{
		Identifier: "20111111111",
		LegalName:  "Acme SA",
		CreatedAt:  stored,
		UpdatedAt:  stored,
	})
	require.NoError(t, err)
	_, err = store.Products.Create(ctx, domain.Product{Code: "P-1", CreatedAt: stored, UpdatedAt: stored})
	require.NoError(t, err)

	lookup := RepositoryLookup{Organizations: store.Organizations, Products: store.Products}
	reconciler := NewReconciler(lookup, lookup)

	decision, err := reconciler.Decide(ctx, Extract(1, certificateRow("20111111111", "P-1", date(2023, time.December, 1))))
	require.NoError(t, err)
	require.True(t, decision.OrgCheck.Exists)
	require.False(t, decision.OrgCheck.IsNewer)
	require.Equal(t, stored, *decision.OrgCheck.StoredTimestamp)
	require.Equal(t, domain.ActionSkip, decision.Action)
	require.Empty(t, decision.MissingFields)

	// The product side cannot force a write past a stale organization.
	decision, err = reconciler.Decide(ctx, Extract(2, certificateRow("20111111111", "P-NEW", date(2023, time.December, 1))))
	require.NoError(t, err)
	require.Equal(t, domain.ActionSkip, decision.Action)
}

type failingLookup struct{ err error }

func (f failingLookup) LookupOrganization(ctx context.Context, identifier string) (*domain.Organization, error) {
	return nil, f.err
}

func (f failingLookup) LookupProduct(ctx context.Context, code string) (*domain.Product, error) {
	return nil, f.err
}

func TestDecideAllKeepsOrderAndPropagatesErrors(t *testing.T) {
	store := memstore.New()
	lookup := RepositoryLookup{Organizations: store.Organizations, Products: store.Products}
	reconciler := NewReconciler(lookup, lookup)

	extractions := make([]domain.ExtractionResult, 0, 20)
	for i := 1; i <= 20; i++ {
		extractions = append(extractions, Extract(i, certificateRow(fmt.Sprintf("20%09d", i), fmt.Sprintf("P-%d", i), date(2024, time.June, 1))))
	}

	decisions, err := reconciler.DecideAll(context.Background(), extractions, 4)
	require.NoError(t, err)
	require.Len(t, decisions, 20)
	for i, decision := range decisions {
		require.Equal(t, i+1, decision.Extraction.RowNumber)
		require.Equal(t, domain.ActionInsertBoth, decision.Action)
	}

	boom := errors.New("lookup down")
	broken := NewReconciler(failingLookup{err: boom}, failingLookup{err: boom})
	_, err = broken.DecideAll(context.Background(), extractions, 4)
	require.ErrorIs(t, err, boom)
}
