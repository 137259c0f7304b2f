// Package undo keeps a bounded, per-session log of reversible inserts.
package undo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/metrics"
	"github.com/rpattn/certrecon/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// TrimThreshold is the number of non-undone entries at which a push trims the session.
	TrimThreshold = 5
	// RetainedBeforePush is how many of the newest entries survive a trim.
	// The pushed entry then brings the session back to TrimThreshold.
	RetainedBeforePush = 4
)

// ErrEntryNotFound is returned when an undo entry does not exist in the requested scope.
var ErrEntryNotFound = errors.New("undo entry not found")

// Manager owns the open sessions and reverses entries.
type Manager struct {
	entries  repository.UndoRepository
	orgs     repository.OrganizationRepository
	products repository.ProductRepository
	audit    repository.AuditRepository
	log      logrus.FieldLogger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager wires an undo manager.
func NewManager(
	entries repository.UndoRepository,
	orgs repository.OrganizationRepository,
	products repository.ProductRepository,
	audit repository.AuditRepository,
	log logrus.FieldLogger,
) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		entries:  entries,
		orgs:     orgs,
		products: products,
		audit:    audit,
		log:      log,
		now:      time.Now,
		sessions: map[string]*Session{},
	}
}

// Open returns the session for sessionID, creating it on first use. Every
// Open must be paired with Session.Close; the session is dropped once the
// last holder closes it.
func (m *Manager) Open(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &Session{id: sessionID, manager: m}
		m.sessions[sessionID] = s
	}
	s.refs++
	return s
}

// OpenSessions returns how many sessions are currently held.
func (m *Manager) OpenSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.refs > 0 {
		s.refs--
	}
	if s.refs == 0 && m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
}

// Undo reverses the insert recorded by entryID. It reports false, without
// error, for entries that are already undone or not reversible.
func (m *Manager) Undo(ctx context.Context, entryID uuid.UUID, actor string) (bool, error) {
	entry, err := m.entries.GetByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.ObserveUndo("not_found")
			return false, ErrEntryNotFound
		}
		return false, fmt.Errorf("failed to load undo entry: %w", err)
	}
	return m.undo(ctx, entry, actor)
}

func (m *Manager) undo(ctx context.Context, entry domain.UndoEntry, actor string) (bool, error) {
	log := m.log.WithFields(logrus.Fields{
		"session_id": entry.SessionID,
		"entry_id":   entry.ID,
		"action":     entry.ActionType,
	})
	if entry.IsUndone {
		metrics.ObserveUndo("already_undone")
		return false, nil
	}
	if !entry.ActionType.Reversible() {
		metrics.ObserveUndo("not_reversible")
		return false, nil
	}

	var (
		entityType domain.EntityType
		deleteErr  error
	)
	switch entry.ActionType {
	case domain.UndoInsertOrganization:
		entityType = domain.EntityOrganization
		deleteErr = m.orgs.Delete(ctx, entry.Payload.EntityID)
	case domain.UndoInsertProduct:
		entityType = domain.EntityProduct
		deleteErr = m.products.Delete(ctx, entry.Payload.EntityID)
	}
	if deleteErr != nil {
		if !errors.Is(deleteErr, repository.ErrNotFound) {
			metrics.ObserveUndo("failed")
			return false, fmt.Errorf("failed to reverse %s: %w", entry.ActionType, deleteErr)
		}
		log.Warn("inserted row already gone, marking entry undone")
	}

	if err := m.audit.Record(ctx, domain.AuditEntry{
		BatchID:    entry.BatchID,
		EntityType: entityType,
		EntityID:   entry.Payload.EntityID,
		EntityKey:  entry.Payload.EntityKey,
		Operation:  domain.AuditUndoInsert,
		Actor:      actor,
	}); err != nil {
		log.WithError(err).Warn("failed to record undo audit entry")
	}

	if err := m.entries.MarkUndone(ctx, entry.ID, actor, m.now()); err != nil {
		metrics.ObserveUndo("failed")
		return false, fmt.Errorf("failed to mark undo entry: %w", err)
	}

	metrics.ObserveUndo("undone")
	log.WithField("entity_key", entry.Payload.EntityKey).Info("insert undone")
	return true, nil
}

// Session is one actor's undo log. Pushes are serialized per session.
// Persisted entries outlive the session and stay undoable through
// Manager.Undo.
type Session struct {
	id      string
	manager *Manager
	mu      sync.Mutex
	refs    int // guarded by manager.mu
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Close releases this holder's reference to the session.
func (s *Session) Close() { s.manager.release(s) }

// Push appends an entry, first pruning the oldest non-undone entries beyond
// the retained window.
func (s *Session) Push(ctx context.Context, entry domain.UndoEntry) (domain.UndoEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.manager.entries.ListActive(ctx, s.id)
	if err != nil {
		return domain.UndoEntry{}, fmt.Errorf("failed to list undo entries: %w", err)
	}
	if len(active) >= TrimThreshold {
		stale := make([]uuid.UUID, 0, len(active)-RetainedBeforePush)
		for _, old := range active[RetainedBeforePush:] {
			stale = append(stale, old.ID)
		}
		if err := s.manager.entries.Prune(ctx, stale); err != nil {
			return domain.UndoEntry{}, fmt.Errorf("failed to trim undo entries: %w", err)
		}
	}

	entry.SessionID = s.id
	entry.IsUndone = false
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	created, err := s.manager.entries.Create(ctx, entry)
	if err != nil {
		return domain.UndoEntry{}, fmt.Errorf("failed to push undo entry: %w", err)
	}
	return created, nil
}

// Active lists the session's non-undone entries, newest first.
func (s *Session) Active(ctx context.Context) ([]domain.UndoEntry, error) {
	entries, err := s.manager.entries.ListActive(ctx, s.id)
	if err != nil {
		return nil, fmt.Errorf("failed to list undo entries: %w", err)
	}
	return entries, nil
}

// Undo reverses an entry that belongs to this session.
func (s *Session) Undo(ctx context.Context, entryID uuid.UUID, actor string) (bool, error) {
	entry, err := s.manager.entries.GetByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrEntryNotFound
		}
		return false, fmt.Errorf("failed to load undo entry: %w", err)
	}
	if entry.SessionID != s.id {
		return false, ErrEntryNotFound
	}
	return s.manager.undo(ctx, entry, actor)
}
