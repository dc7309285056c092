// Package ledger provides an append-only history of cycle events.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dimmerd/internal/eventbus"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCycleStarted  EventType = EventType(eventbus.EventCycleStarted)
	EventCycleStopped  EventType = EventType(eventbus.EventCycleStopped)
	EventCyclesCleared EventType = EventType(eventbus.EventCyclesCleared)
	EventTargetLost    EventType = EventType(eventbus.EventTargetLost)
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	EventType EventType
	Timestamp time.Time
	Kind      string
	TargetID  string
	Payload   map[string]any
	Source    string
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, kind, targetID, source string, payload map[string]any) error {
	return l.AppendAt(time.Now(), eventType, kind, targetID, source, payload)
}

// AppendAt adds a new event with an explicit timestamp
func (l *Ledger) AppendAt(at time.Time, eventType EventType, kind, targetID, source string, payload map[string]any) error {
	var payloadJSON []byte
	if payload != nil {
		var err error
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err := l.db.Exec(`
		INSERT INTO event_ledger (event_type, timestamp, kind, target_id, payload, source)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(eventType), at.UTC().Unix(), kind, targetID, string(payloadJSON), source)
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", eventType, err)
	}
	return nil
}

// Record is an eventbus handler that appends bus events to the ledger
func (l *Ledger) Record(ev eventbus.Event) {
	if err := l.AppendAt(ev.Time, EventType(ev.Type), ev.Kind, ev.TargetID, "engine", ev.Data); err != nil {
		log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("Failed to record event")
	}
}

// Recent returns the newest entries first
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, kind, target_id, payload, source
		FROM event_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// ForTarget returns the history of one target, newest first
func (l *Ledger) ForTarget(kind, targetID string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, kind, target_id, payload, source
		FROM event_ledger
		WHERE kind = ? AND target_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, kind, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, kind, target_id, payload, source
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// Filter selects ledger entries. Empty fields match everything.
type Filter struct {
	Type     EventType
	Kind     string
	TargetID string
	Limit    int
}

// DefaultLimit is used when a filter leaves Limit unset.
const DefaultLimit = 50

// Query returns the entries matching f, newest first.
// A target takes precedence over a type.
func (l *Ledger) Query(f Filter) ([]*Entry, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}

	switch {
	case f.TargetID != "":
		if f.Kind == "" {
			return nil, fmt.Errorf("target %q needs a kind", f.TargetID)
		}
		return l.ForTarget(f.Kind, f.TargetID, f.Limit)
	case f.Type != "":
		return l.GetByType(f.Type, f.Limit)
	default:
		return l.Recent(f.Limit)
	}
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var kind, targetID, payloadStr, source sql.NullString
		var timestamp int64

		err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &kind, &targetID, &payloadStr, &source)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.Kind = kind.String
		entry.TargetID = targetID.String
		entry.Source = source.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
