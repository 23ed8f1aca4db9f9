package retention

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	logx "zwboot/pkg/logx"
)

var ErrClosed = errors.New("retention: store closed")

// Store persists the retention record. Load returns the zero Record when
// nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, r Record) error
	Close() error
}

// Config configures the retention store.
//
// Driver values:
//   - "memory" (default): process-local, lost on exit
//   - "file": binary image file, replaced atomically on save
//   - "sqlite": single-row table in a SQLite database
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("retention: unknown driver: " + driver)
	}
}

type memoryStore struct {
	mu     sync.Mutex
	rec    Record
	closed bool
}

// NewMemory returns an in-process store.
func NewMemory() Store { return &memoryStore{} }

func (s *memoryStore) Load(ctx context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, ErrClosed
	}
	return s.rec, nil
}

func (s *memoryStore) Save(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.rec = r
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
