package deadletter

import (
	"context"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/242617/pushconsumer/pgrepo"
	"github.com/242617/pushconsumer/protocol"
	"github.com/242617/pushconsumer/pushconsumer"
)

// Schema is the DDL for the dead_letters table. Callers run it once during
// provisioning (pgrepo has no migration runner of its own).
const Schema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	id              uuid PRIMARY KEY,
	group_id        text NOT NULL,
	real_topic      text NOT NULL,
	real_partition  integer NOT NULL,
	real_offset     bigint NOT NULL,
	message_key     bytea,
	message_value   bytea,
	retry_count     integer NOT NULL,
	reason          text NOT NULL,
	recorded_at     timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS dead_letters_group_id_recorded_at_idx
	ON dead_letters (group_id, recorded_at DESC);
`

// Record is one dead-lettered message, as persisted.
type Record struct {
	ID            uuid.UUID `db:"id"`
	GroupID       string    `db:"group_id"`
	RealTopic     string    `db:"real_topic"`
	RealPartition int32     `db:"real_partition"`
	RealOffset    int64     `db:"real_offset"`
	MessageKey    []byte    `db:"message_key"`
	MessageValue  []byte    `db:"message_value"`
	RetryCount    int       `db:"retry_count"`
	Reason        string    `db:"reason"`
	RecordedAt    time.Time `db:"recorded_at"`
}

// Store records and queries dead-lettered messages. Satisfies
// pushconsumer.DeadLetterSink.
type Store struct {
	db      *pgrepo.DB
	groupID string
	log     protocol.Logger
}

// NewStore creates a Store over an already-started pgrepo.DB.
func NewStore(db *pgrepo.DB, groupID string, log protocol.Logger) *Store {
	if log == nil {
		log = protocol.NopLogger{}
	}
	return &Store{db: db, groupID: groupID, log: log}
}

// recordFromMessage builds the Record to persist for a dead-lettered
// message, falling back to the message's physical placement when it was
// never retried (and so never had real-* properties stamped).
func recordFromMessage(groupID string, m pushconsumer.Message, reason string) Record {
	rec := Record{
		ID:            uuid.New(),
		GroupID:       groupID,
		RealTopic:     m.RealTopic,
		RealPartition: m.RealPartition,
		RealOffset:    m.RealOffset,
		MessageKey:    m.Key,
		MessageValue:  m.Value,
		RetryCount:    m.RetryCount,
		Reason:        reason,
		RecordedAt:    time.Now(),
	}
	if rec.RealTopic == "" {
		rec.RealTopic = m.Topic
		rec.RealPartition = m.Partition
		rec.RealOffset = m.Offset
	}
	return rec
}

// RecordDeadLetter implements pushconsumer.DeadLetterSink.
func (s *Store) RecordDeadLetter(ctx context.Context, m pushconsumer.Message, reason string) error {
	rec := recordFromMessage(s.groupID, m, reason)

	_, err := s.db.Master().Exec(ctx, `
		INSERT INTO dead_letters
			(id, group_id, real_topic, real_partition, real_offset, message_key, message_value, retry_count, reason, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.GroupID, rec.RealTopic, rec.RealPartition, rec.RealOffset, rec.MessageKey, rec.MessageValue, rec.RetryCount, rec.Reason, rec.RecordedAt)
	if err != nil {
		return errors.Wrap(err, "insert dead letter record")
	}

	s.log.Warn(ctx, "message dead-lettered",
		"group_id", rec.GroupID,
		"real_topic", rec.RealTopic,
		"real_partition", rec.RealPartition,
		"real_offset", rec.RealOffset,
		"retry_count", rec.RetryCount,
		"reason", rec.Reason)
	return nil
}

// ListRecent returns the most recently recorded dead letters for this
// store's group, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	var records []Record
	err := pgxscan.Select(ctx, s.db.Replica(ctx), &records, `
		SELECT id, group_id, real_topic, real_partition, real_offset, message_key, message_value, retry_count, reason, recorded_at
		FROM dead_letters
		WHERE group_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, s.groupID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select dead letters")
	}
	return records, nil
}

// GetByID returns a single dead letter record by its audit ID.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Record, error) {
	var rec Record
	err := pgxscan.Get(ctx, s.db.Replica(ctx), &rec, `
		SELECT id, group_id, real_topic, real_partition, real_offset, message_key, message_value, retry_count, reason, recorded_at
		FROM dead_letters
		WHERE id = $1
	`, id)
	if err != nil {
		return Record{}, errors.Wrap(err, "get dead letter")
	}
	return rec, nil
}
