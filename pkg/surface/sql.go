package surface

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odysseyhq/odyssey/pkg/contracts"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLSurface implements Surface on database/sql. It supports both Postgres
// and SQLite via standard drivers. Durability comes from the transaction
// commit: Propose acknowledges only after COMMIT, and the primary key plus
// the idempotency unique index make concurrent duplicate proposals commit
// exactly once.
type SQLSurface struct {
	db    *sql.DB
	hub   *hub
	clock func() time.Time
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS state_records (
	execution_id TEXT NOT NULL,
	sequence_no BIGINT NOT NULL,
	prior_state TEXT NOT NULL,
	new_state TEXT NOT NULL,
	phase TEXT NOT NULL DEFAULT '',
	intent_id TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL DEFAULT '',
	payload_hash TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	prev_hash TEXT NOT NULL DEFAULT '',
	record_hash TEXT NOT NULL DEFAULT '',
	committed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (execution_id, sequence_no)
);
CREATE UNIQUE INDEX IF NOT EXISTS state_records_idem
	ON state_records (execution_id, idempotency_key)
	WHERE idempotency_key <> '';
`

const recordColumns = `execution_id, sequence_no, prior_state, new_state, phase, intent_id,
	actor, payload_hash, idempotency_key, reason, prev_hash, record_hash, committed_at`

// NewSQLSurface wraps an open database handle.
func NewSQLSurface(db *sql.DB) *SQLSurface {
	return NewSQLSurfaceWithClock(db, time.Now)
}

// NewSQLSurfaceWithClock wraps a handle with an injectable clock.
func NewSQLSurfaceWithClock(db *sql.DB, clock func() time.Time) *SQLSurface {
	return &SQLSurface{db: db, hub: newHub(), clock: clock}
}

// OpenSQLite opens a SQLite-backed surface at the given path.
func OpenSQLite(ctx context.Context, path string) (*SQLSurface, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s := NewSQLSurface(db)
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenPostgres opens a Postgres-backed surface with the given DSN.
func OpenPostgres(ctx context.Context, dsn string) (*SQLSurface, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := NewSQLSurface(db)
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Init creates the schema.
func (s *SQLSurface) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqlSchema); err != nil {
		return fmt.Errorf("%w: init schema: %v", contracts.ErrStorageUnavailable, err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLSurface) Close() error {
	return s.db.Close()
}

// Propose implements Surface.
func (s *SQLSurface) Propose(ctx context.Context, t Transition) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("%w: begin: %v", contracts.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if t.IdempotencyKey != "" {
		if rec, ok, err := s.findByIdemTx(ctx, tx, t.ExecutionID, t.IdempotencyKey); err != nil {
			return Record{}, err
		} else if ok {
			return rec, nil
		}
	}

	last, err := s.lastTx(ctx, tx, t.ExecutionID)
	if err != nil {
		return Record{}, err
	}
	if err := validate(last, t); err != nil {
		return Record{}, err
	}
	var prevHash string
	if last != nil {
		prevHash = last.RecordHash
	}

	rec, err := seal(t, prevHash, s.clock())
	if err != nil {
		return Record{}, err
	}

	const insert = `
		INSERT INTO state_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.ExecContext(ctx, insert,
		rec.ExecutionID, rec.SequenceNo, string(rec.PriorState), string(rec.NewState),
		string(rec.Phase), rec.IntentID, rec.Actor, rec.PayloadHash, rec.IdempotencyKey,
		string(rec.Reason), rec.PrevHash, rec.RecordHash, rec.Timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// A racer committed this position first. If it carried our
			// idempotency key, hand back its record; otherwise reject.
			return s.resolveConflict(ctx, t)
		}
		return Record{}, fmt.Errorf("%w: insert: %v", contracts.ErrStorageUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return s.resolveConflict(ctx, t)
		}
		return Record{}, fmt.Errorf("%w: commit: %v", contracts.ErrStorageUnavailable, err)
	}

	s.hub.publish(rec)
	return rec, nil
}

func (s *SQLSurface) resolveConflict(ctx context.Context, t Transition) (Record, error) {
	if t.IdempotencyKey != "" {
		if rec, ok, err := s.findByIdem(ctx, t.ExecutionID, t.IdempotencyKey); err == nil && ok {
			return rec, nil
		}
	}
	return Record{}, fmt.Errorf("%w: execution %s sequence %d already committed",
		contracts.ErrSequenceConflict, t.ExecutionID, t.SequenceNo)
}

func (s *SQLSurface) findByIdem(ctx context.Context, executionID, key string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM state_records
		WHERE execution_id = $1 AND idempotency_key = $2
	`, executionID, key)
	return scanMaybe(row)
}

func (s *SQLSurface) findByIdemTx(ctx context.Context, tx *sql.Tx, executionID, key string) (Record, bool, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM state_records
		WHERE execution_id = $1 AND idempotency_key = $2
	`, executionID, key)
	return scanMaybe(row)
}

func (s *SQLSurface) lastTx(ctx context.Context, tx *sql.Tx, executionID string) (*Record, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM state_records
		WHERE execution_id = $1
		ORDER BY sequence_no DESC LIMIT 1
	`, executionID)
	rec, ok, err := scanMaybe(row)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Read implements Surface.
func (s *SQLSurface) Read(ctx context.Context, executionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM state_records
		WHERE execution_id = $1
		ORDER BY sequence_no ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", contracts.ErrStorageUnavailable, err)
	}
	records, err := scanAll(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, contracts.ErrNotFound
	}
	return records, nil
}

// ReadRange implements Surface.
func (s *SQLSurface) ReadRange(ctx context.Context, from, to time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM state_records
		WHERE committed_at >= $1 AND committed_at <= $2
		ORDER BY execution_id ASC, sequence_no ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: read range: %v", contracts.ErrStorageUnavailable, err)
	}
	return scanAll(rows)
}

// Subscribe implements Surface. Live delivery covers commits made through
// this process; cross-process consumers poll Read instead.
//
// The hub subscriber is registered before the history read: a commit landing
// between the two shows up on the live channel and is deduplicated against
// the snapshot by sequence number, so no record is lost in the gap.
func (s *SQLSurface) Subscribe(ctx context.Context, executionID string) (<-chan Record, func(), error) {
	live, cancel := s.hub.subscribe(ctx, executionID, nil)

	history, err := s.Read(ctx, executionID)
	if err != nil && !errors.Is(err, contracts.ErrNotFound) {
		cancel()
		return nil, nil, err
	}

	out := make(chan Record, len(history)+subscriberBuffer)
	go func() {
		defer close(out)
		delivered := int64(-1)
		for _, r := range history {
			out <- r
			delivered = int64(r.SequenceNo)
		}
		for r := range live {
			if int64(r.SequenceNo) <= delivered {
				continue
			}
			delivered = int64(r.SequenceNo)
			out <- r
		}
	}()
	return out, cancel, nil
}

func scanMaybe(row *sql.Row) (Record, bool, error) {
	rec, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("%w: scan: %v", contracts.ErrStorageUnavailable, err)
	}
	return rec, true, nil
}

func scanAll(rows *sql.Rows) ([]Record, error) {
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %v", contracts.ErrStorageUnavailable, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", contracts.ErrStorageUnavailable, err)
	}
	return out, nil
}

func scanRecord(scan func(...any) error) (Record, error) {
	var rec Record
	var prior, newState, phase, reason string
	err := scan(
		&rec.ExecutionID, &rec.SequenceNo, &prior, &newState, &phase, &rec.IntentID,
		&rec.Actor, &rec.PayloadHash, &rec.IdempotencyKey, &reason,
		&rec.PrevHash, &rec.RecordHash, &rec.Timestamp,
	)
	if err != nil {
		return Record{}, err
	}
	rec.PriorState = contracts.Status(prior)
	rec.NewState = contracts.Status(newState)
	rec.Phase = StepPhase(phase)
	rec.Reason = contracts.Reason(reason)
	return rec, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
