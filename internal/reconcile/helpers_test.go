package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rpattn/certrecon/internal/domain"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// certificateRow builds a fully populated row for identifier and code.
func certificateRow(identifier, code string, emission time.Time) domain.NormalizedRow {
	return domain.NormalizedRow{
		domain.FieldEmissionDate:             emission,
		domain.FieldOrgIdentifier:            identifier,
		domain.FieldOrgLegalName:             "Org " + identifier,
		domain.FieldOrgAddress:               "Calle 123",
		domain.FieldOrgEmail:                 identifier + "@example.test",
		domain.FieldOrgPhone:                 "+54 11 5555-0000",
		domain.FieldOrgContact:               "Ana",
		domain.FieldProductCode:              code,
		domain.FieldProductResponsibleParty:  "Ing. Perez",
		domain.FieldProductCertificationType: "IRAM",
		domain.FieldProductExpiryDate:        date(2026, time.March, 1),
	}
}

// recordingUndo is an UndoLog that keeps every pushed entry.
type recordingUndo struct {
	mu      sync.Mutex
	entries []domain.UndoEntry
}

func (r *recordingUndo) Push(ctx context.Context, entry domain.UndoEntry) (domain.UndoEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.New()
	r.entries = append(r.entries, entry)
	return entry, nil
}

func (r *recordingUndo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
