// Package spillover implements the on-disk buffer spec.md §4.6 names:
// an append-only JSON-lines file, guarded by a single writer lock, with a
// byte-size ceiling and an event-count ceiling. Grounded on
// internal/service/trace/wal.go's segment/checkpoint/locking discipline,
// generalized from a binary multi-segment WAL to spec.md's single
// JSON-lines file (the wire format mandates JSON lines, not a
// length-prefixed binary record) and a size ceiling in place of segment
// rotation.
package spillover

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/relaylog/eventlog/internal/model"
	"github.com/relaylog/eventlog/internal/serializer"
)

// Fixed filenames within the spillover directory, per spec.md §4.6/§6.
const (
	ActiveFileName = "spill"
	ReplayFileName = "replay"
)

// Store guards appends to the active spill file with a single mutex, so
// concurrent writers are serialized. Append performs its disk I/O on the
// calling goroutine; there is no dedicated writer goroutine, so a producer
// whose Log call finds the queue full writes the spill line itself.
type Store struct {
	dir          string
	maxSizeBytes int64
	maxEvents    int

	mu           sync.Mutex
	currentSize  int64
	currentCount int
}

// Open creates dir if missing and returns a Store tracking the size and
// line count already present in an existing active spill file (e.g. from
// a prior process that crashed before replay ran).
func Open(dir string, maxSizeBytes int64, maxEvents int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spillover: create dir: %w", err)
	}
	s := &Store{dir: dir, maxSizeBytes: maxSizeBytes, maxEvents: maxEvents}
	size, count, err := scanExisting(filepath.Join(dir, ActiveFileName))
	if err != nil {
		return nil, err
	}
	s.currentSize, s.currentCount = size, count
	return s, nil
}

func scanExisting(path string) (size int64, count int, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("spillover: stat active file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		count++
		size += int64(len(scanner.Bytes())) + 1 // + newline
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, fmt.Errorf("spillover: scan active file: %w", err)
	}
	return size, count, nil
}

// ErrCeilingExceeded is returned by Append when the write would breach
// either the size or count ceiling. Callers map this to the
// spillover_max_size / spillover_max_events loss reasons.
type ErrCeilingExceeded struct {
	SizeCeiling bool // true if the byte ceiling was hit, false if the count ceiling was
}

func (e *ErrCeilingExceeded) Error() string {
	if e.SizeCeiling {
		return "spillover: maxSpilloverSizeBytes exceeded"
	}
	return "spillover: maxSpilloverEvents exceeded"
}

// Append serializes ev to a JSON line and appends it to the active spill
// file under the store's lock, enforcing the configured ceilings before
// writing anything to disk. Per spec.md §4.6 step 3, the size check uses
// the UTF-8 byte length of the encoded line.
func (s *Store) Append(ev model.Event) error {
	line, err := serializer.SpillLine(ev)
	if err != nil {
		return fmt.Errorf("spillover: %w", err)
	}
	length := int64(len(line))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentSize+length > s.maxSizeBytes {
		return &ErrCeilingExceeded{SizeCeiling: true}
	}
	if s.currentCount+1 > s.maxEvents {
		return &ErrCeilingExceeded{SizeCeiling: false}
	}

	f, err := os.OpenFile(filepath.Join(s.dir, ActiveFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("spillover: open active file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("spillover: write: %w", err)
	}

	s.currentSize += length
	s.currentCount++
	return nil
}

// Size and Count report the active spill file's tracked size and line
// count without touching disk.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSize
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentCount
}

// ResetAfterRename zeroes the tracked size/count after the active file
// has been atomically renamed out from under the store (internal/replay
// calls this once the rename succeeds) — the next Append starts a fresh
// active file.
func (s *Store) ResetAfterRename() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentSize, s.currentCount = 0, 0
}

// ActivePath and ReplayPath return the absolute paths of the two fixed
// filenames within the store's directory.
func (s *Store) ActivePath() string { return filepath.Join(s.dir, ActiveFileName) }
func (s *Store) ReplayPath() string { return filepath.Join(s.dir, ReplayFileName) }
