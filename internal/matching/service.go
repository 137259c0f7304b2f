package matching

import (
	"context"
	"fmt"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/metrics"
	"github.com/rpattn/certrecon/internal/repository"

	"github.com/sirupsen/logrus"
)

// Record is one uploaded organization row.
type Record struct {
	RowNumber    int                         `json:"row_number"`
	Organization domain.OrganizationFragment `json:"organization"`
}

// ApplyStats summarizes ApplyExact.
type ApplyStats struct {
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Ignored   int      `json:"ignored"`
	Errors    []string `json:"errors"`
}

// Service runs the bulk organization-update workflow against the store.
type Service struct {
	orgs  repository.OrganizationRepository
	audit repository.AuditRepository
	log   logrus.FieldLogger
}

// NewService wires a matching service.
func NewService(orgs repository.OrganizationRepository, audit repository.AuditRepository, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{orgs: orgs, audit: audit, log: log}
}

// Preview classifies every record against one snapshot of the stored organizations.
func (s *Service) Preview(ctx context.Context, records []Record) ([]MatchResult, error) {
	candidates, err := s.orgs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load organizations: %w", err)
	}

	results := make([]MatchResult, 0, len(records))
	counts := map[MatchType]int{}
	for _, record := range records {
		result := Match(record.Organization, candidates)
		result.RowNumber = record.RowNumber
		counts[result.Type]++
		metrics.ObserveMatch(string(result.Type))
		results = append(results, result)
	}

	s.log.WithFields(logrus.Fields{
		"records":   len(records),
		"exact":     counts[MatchExact],
		"potential": counts[MatchPotential],
		"new":       counts[MatchNew],
	}).Info("organization match preview")
	return results, nil
}

// ApplyExact writes the field differences of exact matches. Each update is a
// compare-and-swap against the organization as previewed, so a record changed
// since the preview is reported as an error instead of being overwritten.
func (s *Service) ApplyExact(ctx context.Context, results []MatchResult, actor string) (ApplyStats, error) {
	stats := ApplyStats{Errors: []string{}}
	for _, result := range results {
		if result.Type != MatchExact || result.Candidate == nil {
			stats.Ignored++
			continue
		}
		if len(result.Differences) == 0 {
			stats.Unchanged++
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		stored := *result.Candidate
		fragment := result.Uploaded
		fragment.Identifier = stored.Identifier
		updated, err := s.orgs.Update(ctx, stored.WithFragment(fragment), stored.UpdatedAt)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("row %d (%s): %v", result.RowNumber, stored.Identifier, err))
			continue
		}
		stats.Updated++

		if err := s.audit.Record(ctx, domain.AuditEntry{
			EntityType: domain.EntityOrganization,
			EntityID:   updated.ID,
			EntityKey:  updated.Identifier,
			Operation:  domain.AuditMatchUpdate,
			Actor:      actor,
			Changes:    domain.DiffFields(stored.Fields(), updated.Fields(), domain.OrganizationFields, false),
		}); err != nil {
			s.log.WithError(err).WithField("entity_key", updated.Identifier).Error("failed to record audit entry")
		}
	}

	s.log.WithFields(logrus.Fields{
		"updated":   stats.Updated,
		"unchanged": stats.Unchanged,
		"ignored":   stats.Ignored,
		"errors":    len(stats.Errors),
	}).Info("applied exact organization matches")
	return stats, nil
}
