// Package buffer persists pending notification events as a single JSON
// document on disk. Every operation round-trips through the file; mutation
// holds an exclusive lock so concurrent writers cannot truncate each other.
package buffer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/event"
)

// DefaultRetention is how long processed events survive before cleanup.
const DefaultRetention = 14 * 24 * time.Hour

// Buffer is the persisted document shape.
type Buffer struct {
	Events []event.Event `json:"events"`
}

// Store is the file-backed event buffer.
type Store struct {
	path      string
	retention time.Duration
	lock      *flock.Flock
	logger    *zap.Logger

	now func() time.Time
}

// New creates a store for the buffer file at path. The file is created
// lazily on first write.
func New(path string, retention time.Duration, logger *zap.Logger) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		path:      path,
		retention: retention,
		lock:      flock.New(path + ".lock"),
		logger:    logger,
		now:       time.Now,
	}
}

// Path returns the buffer file location.
func (s *Store) Path() string {
	return s.path
}

// Read loads and decodes the persisted buffer. Absence and corruption are
// both treated as an empty buffer; corruption is logged for the operator.
func (s *Store) Read() *Buffer {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("buffer unreadable, treating as empty",
				zap.Error(err),
				zap.String("path", s.path),
			)
		}
		return &Buffer{}
	}

	var buf Buffer
	if err := json.Unmarshal(data, &buf); err != nil {
		s.logger.Warn("buffer corrupt, treating as empty",
			zap.Error(err),
			zap.String("path", s.path),
		)
		return &Buffer{}
	}
	return &buf
}

// Write serializes the buffer atomically under the exclusive lock.
func (s *Store) Write(buf *Buffer) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock buffer: %w", err)
	}
	defer s.lock.Unlock()

	return s.writeLocked(buf)
}

func (s *Store) writeLocked(buf *Buffer) error {
	data, err := json.Marshal(buf)
	if err != nil {
		return fmt.Errorf("encode buffer: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create buffer dir: %w", err)
	}

	// Temp file + rename so readers never observe a partial document.
	tmp, err := os.CreateTemp(dir, ".sse-buffer-*.json")
	if err != nil {
		return fmt.Errorf("create temp buffer: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp buffer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp buffer: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace buffer: %w", err)
	}
	return nil
}

// Append inserts ev unless an unprocessed event with the same uid already
// exists (idempotent dispatch). An order-linked event evicts every other
// order-linked event first: the buffer keeps only the newest pending order.
// Returns whether the event was actually inserted.
func (s *Store) Append(ev event.Event) (bool, error) {
	if err := s.lock.Lock(); err != nil {
		return false, fmt.Errorf("lock buffer: %w", err)
	}
	defer s.lock.Unlock()

	buf := s.Read()

	for i := range buf.Events {
		if buf.Events[i].UID == ev.UID && !buf.Events[i].IsProcessed {
			s.logger.Debug("duplicate event suppressed", zap.String("uid", ev.UID))
			return false, nil
		}
	}

	if ev.Timestamp == 0 {
		ev.Timestamp = s.now().Unix()
	}

	if ev.OrderLinked() {
		kept := buf.Events[:0]
		for _, existing := range buf.Events {
			if !existing.OrderLinked() {
				kept = append(kept, existing)
			}
		}
		buf.Events = kept
	}

	buf.Events = append(buf.Events, ev)

	if ev.OrderLinked() {
		// Opportunistic retention sweep; dispatch frequency bounds growth.
		buf.Events = s.sweep(buf.Events)
	}

	if err := s.writeLocked(buf); err != nil {
		return false, err
	}

	s.logger.Info("event appended",
		zap.String("uid", ev.UID),
		zap.Int64("order_id", ev.OrderID),
	)
	return true, nil
}

// NextUnprocessed returns the oldest event with is_processed == false,
// stamping a timestamp if the producer omitted one. Returns nil when the
// buffer has nothing pending.
func (s *Store) NextUnprocessed() *event.Event {
	buf := s.Read()
	for i := range buf.Events {
		if !buf.Events[i].IsProcessed {
			ev := buf.Events[i]
			if ev.Timestamp == 0 {
				ev.Timestamp = s.now().Unix()
			}
			return &ev
		}
	}
	return nil
}

// MarkProcessed flips is_processed for uid. The flag never reverts.
// Returns whether a matching event was found.
func (s *Store) MarkProcessed(uid string) (bool, error) {
	if err := s.lock.Lock(); err != nil {
		return false, fmt.Errorf("lock buffer: %w", err)
	}
	defer s.lock.Unlock()

	buf := s.Read()
	found := false
	for i := range buf.Events {
		if buf.Events[i].UID == uid {
			buf.Events[i].IsProcessed = true
			found = true
			break
		}
	}
	if !found {
		s.logger.Debug("no event to mark processed", zap.String("uid", uid))
		return false, nil
	}

	if err := s.writeLocked(buf); err != nil {
		return false, err
	}
	return true, nil
}

// Cleanup evicts processed events at or past the retention boundary.
// Returns the number of evicted events.
func (s *Store) Cleanup() (int, error) {
	if err := s.lock.Lock(); err != nil {
		return 0, fmt.Errorf("lock buffer: %w", err)
	}
	defer s.lock.Unlock()

	buf := s.Read()
	kept := s.sweep(buf.Events)
	evicted := len(buf.Events) - len(kept)
	if evicted == 0 {
		return 0, nil
	}

	buf.Events = kept
	if err := s.writeLocked(buf); err != nil {
		return 0, err
	}

	s.logger.Info("buffer cleanup", zap.Int("evicted", evicted))
	return evicted, nil
}

func (s *Store) sweep(events []event.Event) []event.Event {
	cutoff := s.now().Add(-s.retention).Unix()
	kept := events[:0:0]
	for _, ev := range events {
		if ev.IsProcessed && ev.Timestamp <= cutoff {
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}

// Reset empties the buffer.
func (s *Store) Reset() error {
	return s.Write(&Buffer{})
}
