package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNoSession is returned by LoadLast when nothing was saved yet.
var ErrNoSession = errors.New("no session recorded")

// Store persists sessions.
type Store interface {
	Save(s Session) error
	LoadLast() (Session, error)
}

// FileStore keeps the last session as one JSON file, overwritten on save.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file location.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Save(s Session) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	data = append(data, '\n')

	// Write beside the target and rename so readers never see a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace session: %w", err)
	}
	return nil
}

func (f *FileStore) LoadLast() (Session, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, ErrNoSession
		}
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("parse session %s: %w", f.path, err)
	}
	return s, nil
}

// Bucket names of the bolt store.
const (
	bucketLast    = "last"
	bucketHistory = "history"
)

var lastKey = []byte("session")

// BoltStore keeps the last session plus an append-only history keyed by
// timestamp, so runs can be compared for regressions.
type BoltStore struct {
	db *bolt.DB
	mu sync.RWMutex
}

// NewBoltStore opens (or creates) the history database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketLast, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Save(s Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketLast)).Put(lastKey, data); err != nil {
			return err
		}
		hist := tx.Bucket([]byte(bucketHistory))
		seq, err := hist.NextSequence()
		if err != nil {
			return err
		}
		return hist.Put(historyKey(seq, s), data)
	})
}

// historyKey sorts by sequence first so equal timestamps keep save order.
func historyKey(seq uint64, s Session) []byte {
	return []byte(fmt.Sprintf("%020d-%s-%s", seq, s.Timestamp, s.ID))
}

func (b *BoltStore) LoadLast() (Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var s Session
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketLast)).Get(lastKey)
		if data == nil {
			return ErrNoSession
		}
		return json.Unmarshal(data, &s)
	})
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// History returns up to n sessions, newest first. n <= 0 returns all.
func (b *BoltStore) History(n int) ([]Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Session
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketHistory)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if n > 0 && len(out) == n {
				break
			}
			var s Session
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("unmarshal %s: %w", string(k), err)
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

// MemoryStore keeps sessions in memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions []Session
}

func (m *MemoryStore) Save(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, s)
	return nil
}

func (m *MemoryStore) LoadLast() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		return Session{}, ErrNoSession
	}
	return m.sessions[len(m.sessions)-1], nil
}

// All returns every saved session in save order.
func (m *MemoryStore) All() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Session(nil), m.sessions...)
}

// MultiStore saves to every store and loads from the first.
type MultiStore []Store

func (m MultiStore) Save(s Session) error {
	var errs []error
	for _, st := range m {
		if err := st.Save(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiStore) LoadLast() (Session, error) {
	if len(m) == 0 {
		return Session{}, ErrNoSession
	}
	return m[0].LoadLast()
}

// Regression is a step that passed in the previous session and fails now.
type Regression struct {
	Step     string     `json:"step"`
	Previous StepResult `json:"previous"`
	Current  StepResult `json:"current"`
}

// Regressions compares two sessions step by step. Steps present in only
// one of them are ignored.
func Regressions(prev, cur Session) []Regression {
	before := make(map[string]StepResult, len(prev.Steps))
	for _, s := range prev.Steps {
		before[s.Name] = s
	}
	var out []Regression
	for _, s := range cur.Steps {
		p, ok := before[s.Name]
		if ok && p.OK && !s.OK {
			out = append(out, Regression{Step: s.Name, Previous: p, Current: s})
		}
	}
	return out
}
