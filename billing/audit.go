package billing

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Reconciliation records the outcome of one ReplaceEditablePhases call.
// Phase content is never recorded, only its shape.
type Reconciliation struct {
	ID         string     `json:"id"`
	ScheduleID string     `json:"schedule_id"`
	PhaseCount int        `json:"phase_count"`
	NextAction NextAction `json:"next_action"`
	Skipped    bool       `json:"skipped"` // no update was submitted
	CreatedAt  time.Time  `json:"created_at"`
}

// Recorder persists reconciliation outcomes.
type Recorder interface {
	// Record stores a single reconciliation.
	Record(ctx context.Context, r Reconciliation) error
	// List returns the reconciliations for a schedule, oldest first.
	List(ctx context.Context, scheduleID string) ([]Reconciliation, error)
}

// ---------- In-memory implementation (testing / development) ----------

// InMemoryRecorder is a thread-safe in-memory Recorder suitable for tests.
type InMemoryRecorder struct {
	mu      sync.RWMutex
	entries []Reconciliation
}

// NewInMemoryRecorder creates an InMemoryRecorder.
func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Record appends r.
func (m *InMemoryRecorder) Record(_ context.Context, r Reconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, r)
	return nil
}

// List returns the entries recorded for scheduleID.
func (m *InMemoryRecorder) List(_ context.Context, scheduleID string) ([]Reconciliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Reconciliation
	for _, e := range m.entries {
		if e.ScheduleID == scheduleID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ---------- SQLite implementation ----------

// SQLiteRecorder is a Recorder backed by a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
}

// NewSQLiteRecorder creates a new SQLiteRecorder and initialises the schema.
func NewSQLiteRecorder(db *sql.DB) (*SQLiteRecorder, error) {
	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("billing: migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS billing_reconciliations (
    id          TEXT    PRIMARY KEY,
    schedule_id TEXT    NOT NULL,
    phase_count INTEGER NOT NULL,
    next_action TEXT    NOT NULL,
    skipped     INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_billing_reconciliations_schedule
    ON billing_reconciliations(schedule_id, created_at);
`
	_, err := r.db.Exec(ddl)
	return err
}

// Record inserts r.
func (r *SQLiteRecorder) Record(ctx context.Context, rec Reconciliation) error {
	skipped := 0
	if rec.Skipped {
		skipped = 1
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO billing_reconciliations (id, schedule_id, phase_count, next_action, skipped, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ScheduleID, rec.PhaseCount, string(rec.NextAction), skipped, rec.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("billing: record reconciliation: %w", err)
	}
	return nil
}

// List returns the reconciliations for scheduleID, oldest first.
func (r *SQLiteRecorder) List(ctx context.Context, scheduleID string) ([]Reconciliation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, schedule_id, phase_count, next_action, skipped, created_at
		   FROM billing_reconciliations WHERE schedule_id = ? ORDER BY created_at, id`,
		scheduleID,
	)
	if err != nil {
		return nil, fmt.Errorf("billing: list reconciliations: %w", err)
	}
	defer rows.Close()

	var out []Reconciliation
	for rows.Next() {
		var (
			rec       Reconciliation
			action    string
			skipped   int
			createdNs int64
		)
		if err := rows.Scan(&rec.ID, &rec.ScheduleID, &rec.PhaseCount, &action, &skipped, &createdNs); err != nil {
			return nil, fmt.Errorf("billing: scan reconciliation: %w", err)
		}
		rec.NextAction = NextAction(action)
		rec.Skipped = skipped != 0
		rec.CreatedAt = time.Unix(0, createdNs).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
