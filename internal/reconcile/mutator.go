package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/certrecon/internal/backup"
	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrSnapshotRequired is returned when mutation is attempted without a
// completed snapshot phase for the batch.
var ErrSnapshotRequired = errors.New("mutation requires a completed snapshot phase")

// UndoLog receives one entry per reversible insert.
type UndoLog interface {
	Push(ctx context.Context, entry domain.UndoEntry) (domain.UndoEntry, error)
}

// RowOutcome is what applying one decision did to the store.
type RowOutcome struct {
	RowNumber  int
	Action     domain.Action
	Inserted   int
	Updated    int
	SkipReason *domain.SkipReason
	Err        error
}

// Mutator applies decisions to the store, one audit entry per entity touched.
type Mutator struct {
	orgs     repository.OrganizationRepository
	products repository.ProductRepository
	audit    repository.AuditRepository
	log      logrus.FieldLogger
}

// NewMutator wires a mutator.
func NewMutator(
	orgs repository.OrganizationRepository,
	products repository.ProductRepository,
	audit repository.AuditRepository,
	log logrus.FieldLogger,
) *Mutator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Mutator{orgs: orgs, products: products, audit: audit, log: log}
}

// mutation carries the per-row context shared by the side writers.
type mutation struct {
	batchID uuid.UUID
	actor   string
	undo    UndoLog
	writes  *batchWrites
	order   writeOrder
	log     logrus.FieldLogger
}

// Apply writes one decision as a batch of its own. Store failures are
// reported in the outcome and never returned as errors; the error result is
// reserved for calls made without a ready snapshot handle.
func (m *Mutator) Apply(ctx context.Context, handle backup.Handle, decision domain.ReconciliationDecision, actor string, undo UndoLog) (RowOutcome, error) {
	return m.apply(ctx, handle, decision, actor, undo, newBatchWrites())
}

// apply writes one decision. Updates of an entity the batch already wrote
// compare against that write; a side that loses the in-batch recency check
// is left alone. A failing side does not stop the other side.
func (m *Mutator) apply(ctx context.Context, handle backup.Handle, decision domain.ReconciliationDecision, actor string, undo UndoLog, writes *batchWrites) (RowOutcome, error) {
	if !handle.Ready() {
		return RowOutcome{}, ErrSnapshotRequired
	}

	outcome := RowOutcome{RowNumber: decision.Extraction.RowNumber, Action: decision.Action}
	switch decision.Action {
	case domain.ActionSkip:
		outcome.SkipReason = skipReason(domain.SkipNotNewer)
		return outcome, nil
	case domain.ActionNeedsCompletion:
		outcome.SkipReason = skipReason(domain.SkipIncompleteOrganization)
		return outcome, nil
	}

	mut := mutation{
		batchID: handle.BatchID(),
		actor:   actor,
		undo:    undo,
		writes:  writes,
		order:   writeOrder{emission: decision.Extraction.EmissionDate, row: decision.Extraction.RowNumber},
		log: m.log.WithFields(logrus.Fields{
			"batch_id": handle.BatchID(),
			"row":      decision.Extraction.RowNumber,
			"action":   decision.Action,
		}),
	}

	attempted, superseded := 0, 0
	var errs []error
	orgFragment := decision.Extraction.Organization
	if orgFragment != nil && orgFragment.Identifier != "" {
		switch {
		case decision.Action.InsertsOrganization():
			attempted++
			inserted, err := m.insertOrganization(ctx, mut, *orgFragment)
			if err != nil {
				errs = append(errs, err)
			}
			outcome.Inserted += inserted
		case decision.Action.UpdatesOrganization() && decision.OrgCheck.Organization != nil:
			attempted++
			written, err := m.updateOrganization(ctx, mut, *decision.OrgCheck.Organization, *orgFragment)
			switch {
			case err != nil:
				errs = append(errs, err)
			case written:
				outcome.Updated++
			default:
				superseded++
			}
		}
	}

	productFragment := decision.Extraction.Product
	if productFragment != nil && productFragment.Code != "" {
		switch {
		case decision.Action.InsertsProduct():
			attempted++
			inserted, err := m.insertProduct(ctx, mut, *productFragment)
			if err != nil {
				errs = append(errs, err)
			}
			outcome.Inserted += inserted
		case decision.Action.UpdatesProduct() && decision.ProductCheck.Product != nil:
			attempted++
			written, err := m.updateProduct(ctx, mut, *decision.ProductCheck.Product, *productFragment)
			switch {
			case err != nil:
				errs = append(errs, err)
			case written:
				outcome.Updated++
			default:
				superseded++
			}
		}
	}

	switch {
	case len(errs) > 0:
		return failed(outcome, errors.Join(errs...)), nil
	case attempted == 0:
		outcome.SkipReason = skipReason(domain.SkipEmptyRecord)
	case superseded == attempted:
		outcome.SkipReason = skipReason(domain.SkipNotNewer)
	}
	return outcome, nil
}

func skipReason(reason domain.SkipReason) *domain.SkipReason {
	return &reason
}

func failed(outcome RowOutcome, err error) RowOutcome {
	outcome.Err = err
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome.SkipReason = skipReason(domain.SkipCancelled)
	case errors.Is(err, repository.ErrStaleWrite):
		outcome.SkipReason = skipReason(domain.SkipStaleWrite)
	default:
		outcome.SkipReason = skipReason(domain.SkipStoreError)
	}
	return outcome
}

// insertOrganization reports 0 inserted when an earlier row of the same
// upload already created the organization.
func (m *Mutator) insertOrganization(ctx context.Context, mut mutation, fragment domain.OrganizationFragment) (int, error) {
	created, err := m.orgs.Create(ctx, domain.NewOrganization(fragment))
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			mut.log.WithField("entity_key", fragment.Identifier).Debug("organization already inserted")
			return 0, nil
		}
		return 0, fmt.Errorf("insert organization %s: %w", fragment.Identifier, err)
	}

	m.record(ctx, mut, domain.AuditEntry{
		EntityType: domain.EntityOrganization,
		EntityID:   created.ID,
		EntityKey:  created.Identifier,
		Operation:  domain.AuditInsert,
		Changes:    domain.DiffFields(nil, created.Fields(), domain.OrganizationFields, true),
	})
	m.push(ctx, mut, domain.UndoInsertOrganization, created.ID, created.Identifier)
	return 1, nil
}

// updateOrganization reports false when a row of the same batch with a later
// emission date already wrote the organization.
func (m *Mutator) updateOrganization(ctx context.Context, mut mutation, stored domain.Organization, fragment domain.OrganizationFragment) (bool, error) {
	unlock := mut.writes.lock(stored.ID)
	defer unlock()
	if prev, ok := mut.writes.organization(stored.ID); ok {
		if !mut.order.after(prev.order) {
			mut.log.WithField("entity_key", stored.Identifier).Debug("organization superseded within batch")
			return false, nil
		}
		stored = prev.record
	}

	updated, err := m.orgs.Update(ctx, stored.WithFragment(fragment), stored.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("update organization %s: %w", stored.Identifier, err)
	}
	mut.writes.setOrganization(updated, mut.order)

	m.record(ctx, mut, domain.AuditEntry{
		EntityType: domain.EntityOrganization,
		EntityID:   updated.ID,
		EntityKey:  updated.Identifier,
		Operation:  domain.AuditUpdate,
		Changes:    domain.DiffFields(stored.Fields(), updated.Fields(), domain.OrganizationFields, false),
	})
	return true, nil
}

func (m *Mutator) insertProduct(ctx context.Context, mut mutation, fragment domain.ProductFragment) (int, error) {
	created, err := m.products.Create(ctx, domain.NewProduct(fragment))
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			mut.log.WithField("entity_key", fragment.Code).Debug("product already inserted")
			return 0, nil
		}
		return 0, fmt.Errorf("insert product %s: %w", fragment.Code, err)
	}

	m.record(ctx, mut, domain.AuditEntry{
		EntityType: domain.EntityProduct,
		EntityID:   created.ID,
		EntityKey:  created.Code,
		Operation:  domain.AuditInsert,
		Changes:    domain.DiffFields(nil, created.Fields(), domain.ProductFields, true),
	})
	m.push(ctx, mut, domain.UndoInsertProduct, created.ID, created.Code)
	return 1, nil
}

func (m *Mutator) updateProduct(ctx context.Context, mut mutation, stored domain.Product, fragment domain.ProductFragment) (bool, error) {
	unlock := mut.writes.lock(stored.ID)
	defer unlock()
	if prev, ok := mut.writes.productRecord(stored.ID); ok {
		if !mut.order.after(prev.order) {
			mut.log.WithField("entity_key", stored.Code).Debug("product superseded within batch")
			return false, nil
		}
		stored = prev.record
	}

	updated, err := m.products.Update(ctx, stored.WithFragment(fragment), stored.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("update product %s: %w", stored.Code, err)
	}
	mut.writes.setProduct(updated, mut.order)

	m.record(ctx, mut, domain.AuditEntry{
		EntityType: domain.EntityProduct,
		EntityID:   updated.ID,
		EntityKey:  updated.Code,
		Operation:  domain.AuditUpdate,
		Changes:    domain.DiffFields(stored.Fields(), updated.Fields(), domain.ProductFields, false),
	})
	return true, nil
}

// record writes an audit entry. The row already reached the store, so a
// failed audit write is logged rather than failing the row.
func (m *Mutator) record(ctx context.Context, mut mutation, entry domain.AuditEntry) {
	batchID := mut.batchID
	entry.BatchID = &batchID
	entry.Actor = mut.actor
	if err := m.audit.Record(ctx, entry); err != nil {
		mut.log.WithError(err).WithField("entity_key", entry.EntityKey).Error("failed to record audit entry")
	}
}

func (m *Mutator) push(ctx context.Context, mut mutation, actionType domain.UndoActionType, id uuid.UUID, key string) {
	if mut.undo == nil {
		return
	}
	batchID := mut.batchID
	_, err := mut.undo.Push(ctx, domain.UndoEntry{
		BatchID:    &batchID,
		ActionType: actionType,
		Payload:    domain.UndoPayload{EntityID: id, EntityKey: key},
	})
	if err != nil {
		mut.log.WithError(err).WithField("entity_key", key).Warn("failed to push undo entry")
	}
}
