package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/rpattn/certrecon/internal/auth"
	"github.com/rpattn/certrecon/internal/backup"
	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/metrics"
	"github.com/rpattn/certrecon/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Snapshotter runs the snapshot phase of a batch.
type Snapshotter interface {
	Prepare(ctx context.Context, batchID uuid.UUID, actor string, decisions []domain.ReconciliationDecision) (backup.Handle, error)
}

// UndoSession is an undo log held for the duration of one batch.
type UndoSession interface {
	UndoLog
	Close()
}

// UndoSessions hands out the undo log of a session.
type UndoSessions interface {
	Open(sessionID string) UndoSession
}

// SessionsFunc adapts a function to UndoSessions.
type SessionsFunc func(sessionID string) UndoSession

func (f SessionsFunc) Open(sessionID string) UndoSession { return f(sessionID) }

// ProcessingStats summarizes one ProcessBatch run.
type ProcessingStats struct {
	Processed     int                             `json:"processed"`
	Inserted      int                             `json:"inserted"`
	Updated       int                             `json:"updated"`
	Skipped       int                             `json:"skipped"`
	Errors        int                             `json:"errors"`
	ErrorMessages []string                        `json:"error_messages"`
	SnapshotID    *uuid.UUID                      `json:"snapshot_id,omitempty"`
	ByAction      map[domain.ProcessingAction]int `json:"by_action"`
}

func newStats() ProcessingStats {
	return ProcessingStats{
		ErrorMessages: []string{},
		ByAction:      map[domain.ProcessingAction]int{},
	}
}

// Processor runs the two-phase batch: snapshot, then parallel mutation.
type Processor struct {
	snapshots Snapshotter
	mutator   *Mutator
	logs      repository.ProcessingLogRepository
	sessions  UndoSessions
	workers   int
	log       logrus.FieldLogger
}

// NewProcessor wires a processor. workers bounds the mutation pool.
func NewProcessor(
	snapshots Snapshotter,
	mutator *Mutator,
	logs repository.ProcessingLogRepository,
	sessions UndoSessions,
	workers int,
	log logrus.FieldLogger,
) *Processor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Processor{
		snapshots: snapshots,
		mutator:   mutator,
		logs:      logs,
		sessions:  sessions,
		workers:   max(workers, 1),
		log:       log,
	}
}

// ProcessBatch applies decisions for batchID. The snapshot phase fails
// closed: when it errors nothing is mutated and the error is returned.
// Row-level store failures are collected in the stats. Cancelling ctx stops
// dispatching; rows already dispatched finish and undispatched rows are
// logged as cancelled.
func (p *Processor) ProcessBatch(ctx context.Context, decisions []domain.ReconciliationDecision, batchID uuid.UUID, createBackup bool) (ProcessingStats, error) {
	stats := newStats()
	actor := auth.Actor(ctx)
	log := p.log.WithFields(logrus.Fields{"batch_id": batchID, "session_id": auth.Session(ctx)})

	handle := backup.Skip(batchID)
	if createBackup {
		var err error
		handle, err = p.snapshots.Prepare(ctx, batchID, actor, decisions)
		if err != nil {
			return stats, fmt.Errorf("backup phase failed: %w", err)
		}
		if id, ok := handle.SnapshotID(); ok {
			stats.SnapshotID = &id
		}
	}

	var undoLog UndoLog
	if p.sessions != nil {
		session := p.sessions.Open(auth.Session(ctx))
		defer session.Close()
		undoLog = session
	}

	type indexedOutcome struct {
		index   int
		outcome RowOutcome
	}
	results := make(chan indexedOutcome)
	entries := make([]domain.ProcessingLogEntry, 0, len(decisions))
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for r := range results {
			entry := logEntry(batchID, decisions[r.index], r.outcome)
			stats.add(entry, r.outcome)
			entries = append(entries, entry)
		}
	}()

	writes := newBatchWrites()
	var g errgroup.Group
	g.SetLimit(p.workers)
	dispatched := 0
	for i, decision := range decisions {
		if ctx.Err() != nil {
			break
		}
		dispatched++
		g.Go(func() error {
			outcome, err := p.mutator.apply(ctx, handle, decision, actor, undoLog, writes)
			if err != nil {
				return err
			}
			results <- indexedOutcome{index: i, outcome: outcome}
			return nil
		})
	}
	applyErr := g.Wait()

	for i := dispatched; i < len(decisions); i++ {
		results <- indexedOutcome{index: i, outcome: RowOutcome{
			RowNumber:  decisions[i].Extraction.RowNumber,
			Action:     decisions[i].Action,
			SkipReason: skipReason(domain.SkipCancelled),
			Err:        context.Cause(ctx),
		}}
	}
	close(results)
	<-collected

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].RowNumber < entries[j].RowNumber })
	if err := p.logs.Append(context.WithoutCancel(ctx), entries...); err != nil {
		return stats, fmt.Errorf("failed to append processing log: %w", err)
	}
	for action, n := range stats.ByAction {
		metrics.ObserveRows(string(action), n)
	}

	log.WithFields(logrus.Fields{
		"processed": stats.Processed,
		"inserted":  stats.Inserted,
		"updated":   stats.Updated,
		"skipped":   stats.Skipped,
		"errors":    stats.Errors,
	}).Info("batch processed")

	if applyErr != nil {
		return stats, applyErr
	}
	if dispatched < len(decisions) {
		return stats, fmt.Errorf("batch cancelled after %d of %d rows: %w", dispatched, len(decisions), context.Cause(ctx))
	}
	return stats, nil
}

func logEntry(batchID uuid.UUID, decision domain.ReconciliationDecision, outcome RowOutcome) domain.ProcessingLogEntry {
	action := domain.ProcessingAction(outcome.Action)
	switch {
	case outcome.Err != nil:
		action = domain.ProcessingError
	case outcome.SkipReason != nil && *outcome.SkipReason == domain.SkipEmptyRecord:
		action = domain.ProcessingSkip
	}

	entry := domain.ProcessingLogEntry{
		ID:            uuid.New(),
		BatchID:       batchID,
		RowNumber:     outcome.RowNumber,
		ActionTaken:   action,
		SkipReason:    outcome.SkipReason,
		MissingFields: append([]string{}, decision.MissingFields...),
		RawRow:        decision.Extraction.SourceRow.Strings(),
	}
	if outcome.Err != nil {
		entry.ErrorMessage = outcome.Err.Error()
	}
	return entry
}

func (s *ProcessingStats) add(entry domain.ProcessingLogEntry, outcome RowOutcome) {
	s.Processed++
	s.Inserted += outcome.Inserted
	s.Updated += outcome.Updated
	s.ByAction[entry.ActionTaken]++
	switch {
	case outcome.Err != nil:
		s.Errors++
		s.ErrorMessages = append(s.ErrorMessages, fmt.Sprintf("row %d: %v", outcome.RowNumber, outcome.Err))
	case outcome.SkipReason != nil:
		s.Skipped++
	}
}
