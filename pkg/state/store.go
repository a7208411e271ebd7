package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tokenbridge/relayer/pkg/ethereum"
)

// ErrStateCorrupted marks persisted state that exists but cannot be parsed.
// This is fatal and requires operator action; resetting to zero would replay
// every event from genesis.
var ErrStateCorrupted = errors.New("persisted state is corrupted")

const (
	cursorFile = "scan_cursor.json"
	ledgerFile = "processed_ledger.json"
)

// writeFileAtomic replaces path with data via a temp file in the same
// directory plus rename, so a crash leaves either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// CursorStore persists the last fully-scanned source-chain block.
type CursorStore struct {
	path string
}

type cursorRecord struct {
	LastScannedBlock uint64 `json:"last_scanned_block"`
}

// NewCursorStore creates a cursor store rooted in dir.
func NewCursorStore(dir string) (*CursorStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &CursorStore{path: filepath.Join(dir, cursorFile)}, nil
}

// Load returns the stored cursor. The second return is false on a clean first
// run with no stored state.
func (s *CursorStore) Load() (uint64, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}

	var rec cursorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", ErrStateCorrupted, s.path, err)
	}
	return rec.LastScannedBlock, true, nil
}

// Save atomically persists the cursor. The cursor is monotonically
// non-decreasing; an attempt to move it backwards is rejected.
func (s *CursorStore) Save(block uint64) error {
	current, ok, err := s.Load()
	if err != nil {
		return err
	}
	if ok && block < current {
		return fmt.Errorf("cursor moves backwards: stored %d, new %d", current, block)
	}

	data, err := json.Marshal(cursorRecord{LastScannedBlock: block})
	if err != nil {
		return fmt.Errorf("failed to encode cursor: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

// RelayRecord is one entry in the processed ledger: a deposit that has been
// handed to the destination chain.
type RelayRecord struct {
	Key        ethereum.EventKey `json:"key"`
	DestTxHash string            `json:"dest_tx_hash"`
	RelayedAt  int64             `json:"relayed_at"`
}

// LedgerStore persists the set of relayed deposit events. It is the sole
// idempotence guard against duplicate minting across restarts. Appends happen
// on the engine's cycle goroutine while the deposits endpoint reads from HTTP
// goroutines, so the in-memory view sits behind a lock.
type LedgerStore struct {
	path string

	mu      sync.RWMutex
	records []RelayRecord
	index   map[ethereum.EventKey]int
}

type ledgerRecord struct {
	Relayed []RelayRecord `json:"relayed"`
}

// NewLedgerStore creates a ledger store rooted in dir and loads any existing
// ledger into memory.
func NewLedgerStore(dir string) (*LedgerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	s := &LedgerStore{
		path:  filepath.Join(dir, ledgerFile),
		index: make(map[ethereum.EventKey]int),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LedgerStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}

	var rec ledgerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStateCorrupted, s.path, err)
	}

	s.records = rec.Relayed
	for i, r := range s.records {
		s.index[r.Key] = i
	}
	return nil
}

// Contains reports whether the event key has already been relayed.
func (s *LedgerStore) Contains(key ethereum.EventKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[key]
	return ok
}

// Len returns the number of relayed events.
func (s *LedgerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Records returns a copy of the ledger contents, oldest first.
func (s *LedgerStore) Records() []RelayRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RelayRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Append adds a relayed event and atomically rewrites the ledger file before
// returning. Appending an already-present key is a no-op.
func (s *LedgerStore) Append(rec RelayRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[rec.Key]; ok {
		return nil
	}

	data, err := json.Marshal(ledgerRecord{Relayed: append(s.records, rec)})
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}

	// In-memory view changes only after the durable write succeeded.
	s.records = append(s.records, rec)
	s.index[rec.Key] = len(s.records) - 1
	return nil
}
