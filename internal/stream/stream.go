package stream

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/reconflow/reconflow/internal/database"
	"github.com/reconflow/reconflow/internal/model"
)

// Default stream tuning values.
const (
	// DefaultVisibilityTimeout is how long a delivered record stays
	// invisible to the rest of the group before it becomes eligible for
	// redelivery.
	DefaultVisibilityTimeout = 30 * time.Second

	// DefaultMaxDeliveries bounds redelivery attempts per record. After
	// this many deliveries without an ack, the record is dead-lettered.
	DefaultMaxDeliveries = 3

	// DefaultPollInterval is how often a blocked Read re-checks the
	// stream for new records.
	DefaultPollInterval = 100 * time.Millisecond
)

// timeFormat matches the job store's timestamp precision.
const timeFormat = "2006-01-02 15:04:05.999"

// Options configures stream delivery behavior.
type Options struct {
	// VisibilityTimeout is the redelivery window for unacknowledged
	// records. Zero means DefaultVisibilityTimeout.
	VisibilityTimeout time.Duration

	// MaxDeliveries bounds delivery attempts per record per group.
	// Zero means DefaultMaxDeliveries.
	MaxDeliveries int

	// PollInterval is the sleep between checks while Read blocks waiting
	// for records. Zero means DefaultPollInterval.
	PollInterval time.Duration
}

// DefaultOptions returns the default stream options.
func DefaultOptions() Options {
	return Options{
		VisibilityTimeout: DefaultVisibilityTimeout,
		MaxDeliveries:     DefaultMaxDeliveries,
		PollInterval:      DefaultPollInterval,
	}
}

// Stream is a SQLite-backed event stream with consumer-group semantics.
type Stream struct {
	db   *sql.DB
	opts Options
}

// New creates a Stream on the given connection and ensures its schema.
func New(conn *sql.DB, opts Options) (*Stream, error) {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = DefaultMaxDeliveries
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	s := &Stream{db: conn, opts: opts}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create stream schema: %w", err)
	}
	return s, nil
}

// createTables creates the stream schema if it doesn't exist.
func (s *Stream) createTables() error {
	schema := `
	-- The append-only log. The rowid doubles as the sequence ID: it is
	-- monotonically increasing within a stream key, which is all the
	-- ordering contract requires.
	CREATE TABLE IF NOT EXISTS stream_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stream_key TEXT NOT NULL,
		pipeline_run_id TEXT NOT NULL,
		payload BLOB,
		completion_marker INTEGER NOT NULL DEFAULT 0,
		published_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_key ON stream_records(stream_key, id);

	-- Per-group delivery cursor. Owned by the consuming group; the
	-- orchestrator never touches these rows.
	CREATE TABLE IF NOT EXISTS group_cursors (
		stream_key TEXT NOT NULL,
		group_name TEXT NOT NULL,
		last_delivered INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (stream_key, group_name)
	);

	-- Delivered-but-unacknowledged records per group.
	CREATE TABLE IF NOT EXISTS pending_entries (
		stream_key TEXT NOT NULL,
		group_name TEXT NOT NULL,
		sequence_id INTEGER NOT NULL,
		consumer_id TEXT NOT NULL,
		delivered_at TEXT NOT NULL,
		deliveries INTEGER NOT NULL,
		PRIMARY KEY (stream_key, group_name, sequence_id)
	);

	-- Records that exhausted their delivery budget for a group.
	CREATE TABLE IF NOT EXISTS dead_letters (
		stream_key TEXT NOT NULL,
		group_name TEXT NOT NULL,
		sequence_id INTEGER NOT NULL,
		deliveries INTEGER NOT NULL,
		dead_lettered_at TEXT NOT NULL,
		PRIMARY KEY (stream_key, group_name, sequence_id)
	);
	`

	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// Publish appends a record to the stream and returns its sequence ID.
func (s *Stream) Publish(ctx context.Context, key, runID string, payload []byte) (int64, error) {
	return s.publish(ctx, key, runID, payload, false)
}

// PublishCompletionMarker appends the producer's final record: the sentinel
// that tells consumers no more input will arrive on this stream. It must be
// the producer's last write.
func (s *Stream) PublishCompletionMarker(ctx context.Context, key, runID string) (int64, error) {
	return s.publish(ctx, key, runID, nil, true)
}

func (s *Stream) publish(ctx context.Context, key, runID string, payload []byte, marker bool) (int64, error) {
	if key == "" {
		return 0, ErrEmptyStreamKey
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO stream_records (stream_key, pipeline_run_id, payload, completion_marker, published_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key, runID, payload, boolToInt(marker), time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to publish record: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence id: %w", err)
	}
	return seq, nil
}

// Read delivers up to batchSize records to a consumer in the given group.
//
// Redeliveries come first: records delivered earlier whose visibility
// timeout expired without an ack are handed out again (with an incremented
// delivery count), then new records past the group's cursor fill the rest
// of the batch. Records within one Read are in sequence order.
//
// If no records are available, Read blocks up to blockTimeout, polling the
// stream, and then returns an empty batch. A blocked Read returns early
// when ctx is cancelled.
func (s *Stream) Read(ctx context.Context, key, group, consumerID string, batchSize int, blockTimeout time.Duration) ([]model.StreamRecord, error) {
	if key == "" {
		return nil, ErrEmptyStreamKey
	}
	if group == "" {
		return nil, ErrEmptyGroup
	}
	if batchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}

	deadline := time.Now().Add(blockTimeout)
	for {
		records, err := s.readOnce(ctx, key, group, consumerID, batchSize)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 || time.Now().After(deadline) {
			return records, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.opts.PollInterval):
		}
	}
}

// readOnce performs one delivery attempt inside a transaction.
func (s *Stream) readOnce(ctx context.Context, key, group, consumerID string, batchSize int) ([]model.StreamRecord, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	records := make([]model.StreamRecord, 0, batchSize)

	// Phase 1: expired pending entries. Entries past the delivery budget
	// move to the dead-letter table; the rest are redelivered.
	if err := s.claimExpired(ctx, tx, key, group, consumerID, batchSize, now, &records); err != nil {
		return nil, err
	}

	// Phase 2: fresh records past the group cursor.
	if len(records) < batchSize {
		if err := s.claimNew(ctx, tx, key, group, consumerID, batchSize-len(records), now, &records); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit read: %w", err)
	}
	return records, nil
}

// claimExpired redelivers or dead-letters pending entries whose visibility
// timeout elapsed.
func (s *Stream) claimExpired(ctx context.Context, tx *sql.Tx, key, group, consumerID string, limit int, now time.Time, out *[]model.StreamRecord) error {
	cutoff := now.Add(-s.opts.VisibilityTimeout).Format(timeFormat)

	rows, err := tx.QueryContext(ctx,
		`SELECT p.sequence_id, p.deliveries, r.pipeline_run_id, r.payload, r.completion_marker, r.published_at
		 FROM pending_entries p
		 JOIN stream_records r ON r.id = p.sequence_id
		 WHERE p.stream_key = ? AND p.group_name = ? AND p.delivered_at <= ?
		 ORDER BY p.sequence_id LIMIT ?`,
		key, group, cutoff, limit,
	)
	if err != nil {
		return fmt.Errorf("failed to query expired entries: %w", err)
	}

	type expired struct {
		rec        model.StreamRecord
		deliveries int
	}
	var claims []expired
	for rows.Next() {
		var (
			e           expired
			marker      int
			publishedAt string
		)
		if err := rows.Scan(&e.rec.SequenceID, &e.deliveries, &e.rec.PipelineRunID, &e.rec.Payload, &marker, &publishedAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan expired entry: %w", err)
		}
		e.rec.CompletionMarker = marker != 0
		e.rec.PublishedAt = database.ParseTimestamp(publishedAt)
		claims = append(claims, e)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("failed to close expired rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate expired entries: %w", err)
	}

	nowStr := now.Format(timeFormat)
	for _, e := range claims {
		if e.deliveries >= s.opts.MaxDeliveries {
			// Delivery budget exhausted: dead-letter instead of retrying
			// forever. Removing the pending entry lets the group drain.
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO dead_letters (stream_key, group_name, sequence_id, deliveries, dead_lettered_at)
				 VALUES (?, ?, ?, ?, ?)`,
				key, group, e.rec.SequenceID, e.deliveries, nowStr,
			); err != nil {
				return fmt.Errorf("failed to dead-letter record: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM pending_entries WHERE stream_key = ? AND group_name = ? AND sequence_id = ?`,
				key, group, e.rec.SequenceID,
			); err != nil {
				return fmt.Errorf("failed to remove dead-lettered entry: %w", err)
			}
			continue
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE pending_entries SET consumer_id = ?, delivered_at = ?, deliveries = deliveries + 1
			 WHERE stream_key = ? AND group_name = ? AND sequence_id = ?`,
			consumerID, nowStr, key, group, e.rec.SequenceID,
		); err != nil {
			return fmt.Errorf("failed to update pending entry: %w", err)
		}
		e.rec.Deliveries = e.deliveries + 1
		*out = append(*out, e.rec)
	}
	return nil
}

// claimNew delivers records past the group's cursor and records them as
// pending.
func (s *Stream) claimNew(ctx context.Context, tx *sql.Tx, key, group, consumerID string, limit int, now time.Time, out *[]model.StreamRecord) error {
	// Ensure the cursor row exists so the group is registered from its
	// first read, even on an empty stream.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO group_cursors (stream_key, group_name, last_delivered) VALUES (?, ?, 0)`,
		key, group,
	); err != nil {
		return fmt.Errorf("failed to register consumer group: %w", err)
	}

	var cursor int64
	if err := tx.QueryRowContext(ctx,
		`SELECT last_delivered FROM group_cursors WHERE stream_key = ? AND group_name = ?`,
		key, group,
	).Scan(&cursor); err != nil {
		return fmt.Errorf("failed to read group cursor: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, pipeline_run_id, payload, completion_marker, published_at
		 FROM stream_records WHERE stream_key = ? AND id > ? ORDER BY id LIMIT ?`,
		key, cursor, limit,
	)
	if err != nil {
		return fmt.Errorf("failed to query new records: %w", err)
	}

	var fresh []model.StreamRecord
	for rows.Next() {
		var (
			rec         model.StreamRecord
			marker      int
			publishedAt string
		)
		if err := rows.Scan(&rec.SequenceID, &rec.PipelineRunID, &rec.Payload, &marker, &publishedAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan record: %w", err)
		}
		rec.CompletionMarker = marker != 0
		rec.PublishedAt = database.ParseTimestamp(publishedAt)
		rec.Deliveries = 1
		fresh = append(fresh, rec)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("failed to close record rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate records: %w", err)
	}

	nowStr := now.Format(timeFormat)
	for _, rec := range fresh {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pending_entries (stream_key, group_name, sequence_id, consumer_id, delivered_at, deliveries)
			 VALUES (?, ?, ?, ?, ?, 1)`,
			key, group, rec.SequenceID, consumerID, nowStr,
		); err != nil {
			return fmt.Errorf("failed to record pending entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE group_cursors SET last_delivered = ? WHERE stream_key = ? AND group_name = ? AND last_delivered < ?`,
			rec.SequenceID, key, group, rec.SequenceID,
		); err != nil {
			return fmt.Errorf("failed to advance group cursor: %w", err)
		}
		*out = append(*out, rec)
	}
	return nil
}

// Ack acknowledges a delivered record for a group. Acking a record that is
// not pending is a no-op: redelivery means a record can legitimately be
// acknowledged twice, and the second ack must not fail the worker.
func (s *Stream) Ack(ctx context.Context, key, group string, sequenceID int64) error {
	if key == "" {
		return ErrEmptyStreamKey
	}
	if group == "" {
		return ErrEmptyGroup
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_entries WHERE stream_key = ? AND group_name = ? AND sequence_id = ?`,
		key, group, sequenceID,
	)
	if err != nil {
		return fmt.Errorf("failed to ack record: %w", err)
	}
	return nil
}

// PendingCount returns how many delivered records the group has not yet
// acknowledged. Workers use this to enforce the drain rule: a consumer may
// not complete while anything is pending, completion marker or not.
func (s *Stream) PendingCount(ctx context.Context, key, group string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_entries WHERE stream_key = ? AND group_name = ?`,
		key, group,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return count, nil
}

// DeadLetterCount returns how many records a group has dead-lettered.
func (s *Stream) DeadLetterCount(ctx context.Context, key, group string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dead_letters WHERE stream_key = ? AND group_name = ?`,
		key, group,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}

// Len returns the number of records published to a stream, markers
// included. Diagnostic only: completion decisions never consult it.
func (s *Stream) Len(ctx context.Context, key string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stream_records WHERE stream_key = ?`, key,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// boolToInt maps a bool to the 0/1 SQLite stores.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
