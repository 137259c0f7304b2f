// Package backup snapshots the rows a batch is about to mutate and restores
// them on request.
package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/metrics"
	"github.com/rpattn/certrecon/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrSnapshotNotFound is returned for operations on an unknown snapshot id.
var ErrSnapshotNotFound = errors.New("backup snapshot not found")

// copyChunk bounds how many live rows are fetched per batch lookup.
const copyChunk = 500

// Handle proves the snapshot phase of a batch finished. The zero value is not
// ready; handles only come from Service.Prepare or Skip.
type Handle struct {
	batchID    uuid.UUID
	snapshotID uuid.UUID
	ready      bool
}

// Skip returns a ready handle for a batch that opted out of backups.
func Skip(batchID uuid.UUID) Handle {
	return Handle{batchID: batchID, ready: true}
}

// Ready reports whether the handle came from a completed snapshot phase.
func (h Handle) Ready() bool { return h.ready }

// BatchID is the batch the handle was issued for.
func (h Handle) BatchID() uuid.UUID { return h.batchID }

// SnapshotID returns the snapshot created for the batch, if any.
func (h Handle) SnapshotID() (uuid.UUID, bool) {
	return h.snapshotID, h.snapshotID != uuid.Nil
}

// Service creates, restores and deletes backup snapshots.
type Service struct {
	orgs     repository.OrganizationRepository
	products repository.ProductRepository
	backups  repository.BackupRepository
	audit    repository.AuditRepository
	log      logrus.FieldLogger
}

// NewService wires a backup service.
func NewService(
	orgs repository.OrganizationRepository,
	products repository.ProductRepository,
	backups repository.BackupRepository,
	audit repository.AuditRepository,
	log logrus.FieldLogger,
) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{orgs: orgs, products: products, backups: backups, audit: audit, log: log}
}

// AffectedKeys returns the sorted, de-duplicated natural keys of every stored
// entity the decisions refer to.
func AffectedKeys(decisions []domain.ReconciliationDecision) (orgKeys, productKeys []string) {
	orgSet := map[string]struct{}{}
	productSet := map[string]struct{}{}
	for _, d := range decisions {
		if d.OrgCheck.Exists && d.OrgCheck.Organization != nil {
			orgSet[d.OrgCheck.Organization.Identifier] = struct{}{}
		}
		if d.ProductCheck.Exists && d.ProductCheck.Product != nil {
			productSet[d.ProductCheck.Product.Code] = struct{}{}
		}
	}
	return sortedKeys(orgSet), sortedKeys(productSet)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Prepare snapshots every stored row the decisions may touch. The snapshot
// record and its row copies commit in one transaction. It fails closed: any
// error, cancellation included, rolls the snapshot back and means no handle,
// so the batch must not be mutated.
func (s *Service) Prepare(ctx context.Context, batchID uuid.UUID, actor string, decisions []domain.ReconciliationDecision) (Handle, error) {
	orgKeys, productKeys := AffectedKeys(decisions)
	log := s.log.WithField("batch_id", batchID)

	var (
		snapshotID           uuid.UUID
		orgRows, productRows int
	)
	err := s.backups.InTx(ctx, func(tx repository.BackupRepository) error {
		snapshot, err := tx.CreateSnapshot(ctx, domain.BackupSnapshot{
			ID:                  uuid.New(),
			BatchID:             batchID,
			CreatedBy:           actor,
			AffectedOrgKeys:     orgKeys,
			AffectedProductKeys: productKeys,
		})
		if err != nil {
			return fmt.Errorf("failed to create backup snapshot: %w", err)
		}
		snapshotID = snapshot.ID

		if orgRows, err = s.copyOrganizations(ctx, tx, snapshot.ID, orgKeys); err != nil {
			return err
		}
		if productRows, err = s.copyProducts(ctx, tx, snapshot.ID, productKeys); err != nil {
			return err
		}
		if err := tx.UpdateRowCounts(ctx, snapshot.ID, orgRows, productRows); err != nil {
			return fmt.Errorf("failed to finalize backup snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.ObserveSnapshot("failed", orgRows, productRows)
		log.WithError(err).WithFields(logrus.Fields{
			"org_rows":     orgRows,
			"product_rows": productRows,
		}).Error("backup snapshot rolled back, batch will not be mutated")
		return Handle{}, err
	}

	metrics.ObserveSnapshot("created", orgRows, productRows)
	log.WithFields(logrus.Fields{
		"snapshot_id":  snapshotID,
		"org_rows":     orgRows,
		"product_rows": productRows,
	}).Info("backup snapshot created")
	return Handle{batchID: batchID, snapshotID: snapshotID, ready: true}, nil
}

func (s *Service) copyOrganizations(ctx context.Context, tx repository.BackupRepository, snapshotID uuid.UUID, keys []string) (int, error) {
	copied := 0
	for start := 0; start < len(keys); start += copyChunk {
		if err := ctx.Err(); err != nil {
			return copied, fmt.Errorf("backup interrupted: %w", err)
		}
		end := min(start+copyChunk, len(keys))
		live, err := s.orgs.GetByIdentifiers(ctx, keys[start:end])
		if err != nil {
			return copied, fmt.Errorf("failed to read organizations for backup: %w", err)
		}
		rows := make([]domain.BackupOrgRow, 0, len(live))
		for _, org := range live {
			rows = append(rows, domain.BackupOrgRow{
				ID:             uuid.New(),
				SnapshotID:     snapshotID,
				OrganizationID: org.ID,
				Data:           org,
			})
		}
		if err := tx.AddOrganizationRows(ctx, rows); err != nil {
			return copied, fmt.Errorf("failed to copy organizations into backup: %w", err)
		}
		copied += len(rows)
	}
	return copied, nil
}

func (s *Service) copyProducts(ctx context.Context, tx repository.BackupRepository, snapshotID uuid.UUID, keys []string) (int, error) {
	copied := 0
	for start := 0; start < len(keys); start += copyChunk {
		if err := ctx.Err(); err != nil {
			return copied, fmt.Errorf("backup interrupted: %w", err)
		}
		end := min(start+copyChunk, len(keys))
		live, err := s.products.GetByCodes(ctx, keys[start:end])
		if err != nil {
			return copied, fmt.Errorf("failed to read products for backup: %w", err)
		}
		rows := make([]domain.BackupProductRow, 0, len(live))
		for _, product := range live {
			rows = append(rows, domain.BackupProductRow{
				ID:         uuid.New(),
				SnapshotID: snapshotID,
				ProductID:  product.ID,
				Data:       product,
			})
		}
		if err := tx.AddProductRows(ctx, rows); err != nil {
			return copied, fmt.Errorf("failed to copy products into backup: %w", err)
		}
		copied += len(rows)
	}
	return copied, nil
}

// Restore writes every backed-up row back over the live entity. Row failures
// are collected and do not stop the remaining rows.
func (s *Service) Restore(ctx context.Context, snapshotID uuid.UUID, actor string) (domain.RestoreOutcome, error) {
	snapshot, err := s.backups.GetSnapshot(ctx, snapshotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.RestoreOutcome{}, ErrSnapshotNotFound
		}
		return domain.RestoreOutcome{}, fmt.Errorf("failed to load backup snapshot: %w", err)
	}

	orgRows, err := s.backups.ListOrganizationRows(ctx, snapshot.ID)
	if err != nil {
		return domain.RestoreOutcome{}, fmt.Errorf("failed to load organization backup rows: %w", err)
	}
	productRows, err := s.backups.ListProductRows(ctx, snapshot.ID)
	if err != nil {
		return domain.RestoreOutcome{}, fmt.Errorf("failed to load product backup rows: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{"snapshot_id": snapshot.ID, "batch_id": snapshot.BatchID})
	batchID := snapshot.BatchID
	outcome := domain.RestoreOutcome{SnapshotID: snapshot.ID, Errors: []string{}}

	for _, row := range orgRows {
		if err := s.orgs.Overwrite(ctx, row.Data); err != nil {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("organization %s: %v", row.Data.Identifier, err))
			continue
		}
		outcome.OrgRestored++
		s.recordAudit(ctx, log, domain.AuditEntry{
			BatchID:    &batchID,
			EntityType: domain.EntityOrganization,
			EntityID:   row.OrganizationID,
			EntityKey:  row.Data.Identifier,
			Operation:  domain.AuditRestore,
			Actor:      actor,
		})
	}

	for _, row := range productRows {
		if err := s.products.Overwrite(ctx, row.Data); err != nil {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("product %s: %v", row.Data.Code, err))
			continue
		}
		outcome.ProductRestored++
		s.recordAudit(ctx, log, domain.AuditEntry{
			BatchID:    &batchID,
			EntityType: domain.EntityProduct,
			EntityID:   row.ProductID,
			EntityKey:  row.Data.Code,
			Operation:  domain.AuditRestore,
			Actor:      actor,
		})
	}

	outcome.Status = domain.ClassifyRestore(outcome.OrgRestored+outcome.ProductRestored, len(outcome.Errors))
	metrics.ObserveRestore(string(outcome.Status))

	history := domain.RestoreHistory{
		ID:              uuid.New(),
		SnapshotID:      snapshot.ID,
		RestoredBy:      actor,
		OrgRestored:     outcome.OrgRestored,
		ProductRestored: outcome.ProductRestored,
		Errors:          outcome.Errors,
		Status:          outcome.Status,
	}
	if err := s.backups.RecordRestore(ctx, history); err != nil {
		return outcome, fmt.Errorf("failed to record restore history: %w", err)
	}

	log.WithFields(logrus.Fields{
		"status":           outcome.Status,
		"org_restored":     outcome.OrgRestored,
		"product_restored": outcome.ProductRestored,
		"errors":           len(outcome.Errors),
	}).Info("snapshot restored")
	return outcome, nil
}

func (s *Service) recordAudit(ctx context.Context, log logrus.FieldLogger, entry domain.AuditEntry) {
	if err := s.audit.Record(ctx, entry); err != nil {
		log.WithError(err).WithField("entity_key", entry.EntityKey).Warn("failed to record restore audit entry")
	}
}

// DeleteSnapshot removes a snapshot's bookkeeping. Live data is not touched.
func (s *Service) DeleteSnapshot(ctx context.Context, snapshotID uuid.UUID) error {
	if err := s.backups.DeleteSnapshot(ctx, snapshotID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSnapshotNotFound
		}
		return fmt.Errorf("failed to delete backup snapshot: %w", err)
	}
	s.log.WithField("snapshot_id", snapshotID).Info("backup snapshot deleted")
	return nil
}

// ListRestores returns the restore runs recorded for a snapshot.
func (s *Service) ListRestores(ctx context.Context, snapshotID uuid.UUID) ([]domain.RestoreHistory, error) {
	history, err := s.backups.ListRestores(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list restores: %w", err)
	}
	return history, nil
}
