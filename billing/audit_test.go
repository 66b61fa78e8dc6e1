package billing

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func testRecorders(t *testing.T) map[string]Recorder {
	t.Helper()
	sqliteRec, err := NewSQLiteRecorder(openTestDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteRecorder: %v", err)
	}
	return map[string]Recorder{
		"memory": NewInMemoryRecorder(),
		"sqlite": sqliteRec,
		"redis":  newTestRedisRecorder(t),
	}
}

// newTestRedisRecorder creates a RedisRecorder backed by a miniredis server.
func newTestRedisRecorder(t *testing.T) *RedisRecorder {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRecorderWithClient(client, "test:")
}

func TestRecorder_RecordAndList(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, rec := range testRecorders(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			entries := []Reconciliation{
				{ID: "r1", ScheduleID: "sub_sched_1", PhaseCount: 2, NextAction: NextKept, CreatedAt: base},
				{ID: "r2", ScheduleID: "sub_sched_2", PhaseCount: 1, NextAction: NextRemoved, CreatedAt: base.Add(time.Second)},
				{ID: "r3", ScheduleID: "sub_sched_1", PhaseCount: 0, NextAction: NextNone, Skipped: true, CreatedAt: base.Add(2 * time.Second)},
			}
			for _, e := range entries {
				if err := rec.Record(ctx, e); err != nil {
					t.Fatalf("Record(%s): %v", e.ID, err)
				}
			}

			got, err := rec.List(ctx, "sub_sched_1")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 entries, got %d", len(got))
			}
			if got[0].ID != "r1" || got[1].ID != "r3" {
				t.Errorf("order = [%s %s], want [r1 r3]", got[0].ID, got[1].ID)
			}
			if got[0].NextAction != NextKept || got[0].PhaseCount != 2 || got[0].Skipped {
				t.Errorf("r1 = %+v", got[0])
			}
			if !got[1].Skipped || got[1].NextAction != NextNone {
				t.Errorf("r3 = %+v", got[1])
			}
			if !got[0].CreatedAt.Equal(base) {
				t.Errorf("created_at = %v, want %v", got[0].CreatedAt, base)
			}

			none, err := rec.List(ctx, "sub_sched_unknown")
			if err != nil {
				t.Fatalf("List unknown: %v", err)
			}
			if len(none) != 0 {
				t.Errorf("expected no entries, got %d", len(none))
			}
		})
	}
}

func TestSQLiteRecorder_DuplicateID(t *testing.T) {
	ctx := context.Background()
	rec, err := NewSQLiteRecorder(openTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	e := Reconciliation{ID: "dup", ScheduleID: "sub_sched_1", NextAction: NextKept, CreatedAt: time.Now()}
	if err := rec.Record(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := rec.Record(ctx, e); err == nil {
		t.Error("expected error for duplicate id")
	}
}

func TestSQLiteRecorder_MigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	if _, err := NewSQLiteRecorder(db); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSQLiteRecorder(db); err != nil {
		t.Errorf("second migrate: %v", err)
	}
}

func TestRedisRecorder_DuplicateID(t *testing.T) {
	ctx := context.Background()
	rec := newTestRedisRecorder(t)
	e := Reconciliation{ID: "dup", ScheduleID: "sub_sched_1", NextAction: NextKept, CreatedAt: time.Now()}
	if err := rec.Record(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := rec.Record(ctx, e); !errors.Is(err, ErrDuplicateReconciliation) {
		t.Errorf("expected ErrDuplicateReconciliation, got %v", err)
	}
	got, err := rec.List(ctx, "sub_sched_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 entry, got %d", len(got))
	}
}

func TestRedisRecorder_FailedAddReleasesID(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rec := NewRedisRecorderWithClient(client, "test:")

	// A string at the sorted set key makes ZADD fail with WRONGTYPE.
	if err := mr.Set("test:schedule:sub_sched_1", "not a zset"); err != nil {
		t.Fatal(err)
	}
	e := Reconciliation{ID: "r1", ScheduleID: "sub_sched_1", NextAction: NextKept, CreatedAt: time.Now()}
	if err := rec.Record(ctx, e); err == nil {
		t.Fatal("expected error when the sorted set key has the wrong type")
	}
	if mr.Exists("test:id:r1") {
		t.Error("id claim should be released after a failed add")
	}

	mr.Del("test:schedule:sub_sched_1")
	if err := rec.Record(ctx, e); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	got, err := rec.List(ctx, "sub_sched_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 entry, got %d", len(got))
	}
}

func TestNewRedisRecorder(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	rec, err := NewRedisRecorder(ctx, "redis://"+mr.Addr()+"/0", "audit:")
	if err != nil {
		t.Fatalf("NewRedisRecorder: %v", err)
	}
	defer rec.Close()

	if err := rec.Record(ctx, Reconciliation{ID: "r1", ScheduleID: "sub_sched_1", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("audit:schedule:sub_sched_1") {
		t.Error("expected prefixed sorted set key")
	}

	addr := mr.Addr()
	mr.Close()
	if _, err := NewRedisRecorder(ctx, "redis://"+addr, "audit:"); err == nil {
		t.Error("expected ping failure against a closed server")
	}
	if _, err := NewRedisRecorder(ctx, "not a url", "audit:"); err == nil {
		t.Error("expected parse error")
	}
}
