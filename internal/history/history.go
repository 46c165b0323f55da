// Package history is the write-only hand-history sink. Records are
// append-only and idempotent by hand id; nothing here reads them back
// for analysis.
package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SeatResult is one player's participation in a finished hand
type SeatResult struct {
	PlayerID  string   `json:"player_id"`
	Seat      int      `json:"seat"`
	Committed int64    `json:"committed"`
	Folded    bool     `json:"folded,omitempty"`
	HoleCards []string `json:"hole_cards,omitempty"` // shown hands only
}

// PotResult is one pot layer's payout
type PotResult struct {
	Amount  int64            `json:"amount"`
	Winners map[string]int64 `json:"winners"`
}

// Audit carries the shuffle commitment chain so a hand can be verified
// after the fact. Seed is empty for hands that ended uncontested.
type Audit struct {
	Commitment string `json:"commitment"`
	Seed       string `json:"seed,omitempty"`
	Proof      string `json:"proof"`
}

// Record is one finished hand
type Record struct {
	HandID   string       `json:"hand_id"`
	TableID  string       `json:"table_id"`
	HandNo   uint64       `json:"hand_no"`
	Stakes   string       `json:"stakes"`
	PlayedAt time.Time    `json:"played_at"`
	Seats    []SeatResult `json:"seats"`
	Board    []string     `json:"board,omitempty"`
	Pots     []PotResult  `json:"pots"`
	Audit    Audit        `json:"audit"`
}

// Sink accepts finished hands. Append must be idempotent by hand id.
type Sink interface {
	Append(ctx context.Context, handID string, rec *Record) error
}

// FileSink writes one JSONL file per table under a base directory.
// Duplicate hand ids are dropped via an in-memory set; the set is
// rebuilt lazily per table on first append after startup.
type FileSink struct {
	dir string

	mu    sync.Mutex
	files map[string]*tableFile
}

type tableFile struct {
	w    *bufio.Writer
	f    *os.File
	seen map[string]bool
}

// NewFileSink creates the base directory and returns a sink
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileSink{dir: dir, files: make(map[string]*tableFile)}, nil
}

// Append writes the record to the table's JSONL file. Re-appending a
// hand id already written this process is a no-op.
func (s *FileSink) Append(ctx context.Context, handID string, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := s.tableFile(rec.TableID)
	if err != nil {
		return err
	}
	if tf.seen[handID] {
		return nil
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode hand %s: %w", handID, err)
	}
	if _, err := tf.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append hand %s: %w", handID, err)
	}
	if err := tf.w.Flush(); err != nil {
		return fmt.Errorf("flush hand %s: %w", handID, err)
	}
	tf.seen[handID] = true
	return nil
}

func (s *FileSink) tableFile(tableID string) (*tableFile, error) {
	if tf, ok := s.files[tableID]; ok {
		return tf, nil
	}
	path := filepath.Join(s.dir, tableID+".jsonl")
	seen, err := scanHandIDs(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	tf := &tableFile{f: f, w: bufio.NewWriter(f), seen: seen}
	s.files[tableID] = tf
	return tf, nil
}

// scanHandIDs rebuilds the de-dup set from an existing file
func scanHandIDs(path string) (map[string]bool, error) {
	seen := make(map[string]bool)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return seen, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var rec struct {
			HandID string `json:"hand_id"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue // tolerate a torn trailing line
		}
		seen[rec.HandID] = true
	}
	return seen, sc.Err()
}

// Close flushes and closes every open table file
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, tf := range s.files {
		if err := tf.w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := tf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = make(map[string]*tableFile)
	return firstErr
}

// MemorySink collects records for tests
type MemorySink struct {
	mu      sync.Mutex
	records map[string]*Record
	order   []string
}

// NewMemorySink returns an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[string]*Record)}
}

func (s *MemorySink) Append(ctx context.Context, handID string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[handID]; ok {
		return nil
	}
	s.records[handID] = rec
	s.order = append(s.order, handID)
	return nil
}

// Records returns appended records in append order
func (s *MemorySink) Records() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, len(s.order))
	for i, id := range s.order {
		out[i] = s.records[id]
	}
	return out
}
