// Package enginecache persists the most recently compiled engine in a single
// bbolt file so later runs can skip the network.
package enginecache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-shield/internal/shield/common/clock"
	"github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/engine"
)

var (
	bucketEngine = []byte("engine")
	keyBlob      = []byte("blob")
	keyID        = []byte("id")
	keyUpdated   = []byte("updated")
)

const openTimeout = time.Second

// Codec converts engines to and from bytes.
type Codec interface {
	Serialize(e *engine.Engine) ([]byte, error)
	Deserialize(data []byte) (*engine.Engine, error)
}

// CacheStats describes the cached record.
type CacheStats struct {
	Path        string
	EngineID    string
	Bytes       int
	UpdatedUnix int64
}

// Options configures a Store.
type Options struct {
	Path  string // required
	Codec Codec  // required
	// options to inject for testing purposes
	Clock  clock.Clock
	Logger log.Logger
}

// Store is an EngineCache backed by a bbolt file at a fixed path. The
// database is opened per call; nothing is held open between calls.
type Store struct {
	path   string
	codec  Codec
	clock  clock.Clock
	logger log.Logger
}

// New creates a Store. The file is not touched until Load or Save.
func New(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("engine cache path is required")
	}
	if opts.Codec == nil {
		return nil, errors.New("engine cache requires a codec")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	return &Store{
		path:   opts.Path,
		codec:  opts.Codec,
		clock:  opts.Clock,
		logger: log.Component(opts.Logger, "enginecache"),
	}, nil
}

// Path returns the cache file location.
func (s *Store) Path() string { return s.path }

// Load returns the cached engine. A missing, unreadable or undecodable cache
// is reported as absent; the file is never created here.
func (s *Store) Load() (*engine.Engine, bool) {
	if _, err := os.Stat(s.path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn(map[string]any{"path": s.path, "error": err}, "engine cache stat failed")
		}
		return nil, false
	}

	blob, err := s.readBlob()
	if err != nil {
		s.logger.Warn(map[string]any{"path": s.path, "error": err}, "engine cache unreadable")
		return nil, false
	}
	e, err := s.codec.Deserialize(blob)
	if err != nil {
		s.logger.Warn(map[string]any{"path": s.path, "error": err}, "engine cache corrupt")
		return nil, false
	}
	s.logger.Info(map[string]any{
		"path":   s.path,
		"engine": e.ID(),
		"size":   humanize.Bytes(uint64(len(blob))),
	}, "engine loaded from cache")
	return e, true
}

func (s *Store) readBlob() ([]byte, error) {
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: openTimeout, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var blob []byte
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEngine)
		if b == nil {
			return errors.New("engine bucket missing")
		}
		v := b.Get(keyBlob)
		if v == nil {
			return errors.New("engine blob missing")
		}
		// v is only valid inside the transaction.
		blob = append([]byte(nil), v...)
		return nil
	})
	return blob, err
}

// Save writes e to the cache, replacing any previous record. Errors are
// logged and swallowed; a failed save leaves the old file in place.
func (s *Store) Save(e *engine.Engine) {
	if err := s.save(e); err != nil {
		s.logger.Warn(map[string]any{"path": s.path, "engine": e.ID(), "error": err}, "engine cache write failed")
	}
}

func (s *Store) save(e *engine.Engine) error {
	blob, err := s.codec.Serialize(e)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}
	if err := s.writeDB(tmp, e.ID(), blob); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace cache file: %w", err)
	}

	s.logger.Info(map[string]any{
		"path":   s.path,
		"engine": e.ID(),
		"size":   humanize.Bytes(uint64(len(blob))),
	}, "engine cache written")
	return nil
}

func (s *Store) writeDB(path, id string, blob []byte) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return fmt.Errorf("open temp cache: %w", err)
	}
	updated := make([]byte, 8)
	binary.BigEndian.PutUint64(updated, uint64(s.clock.Now().Unix()))

	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketEngine)
		if err != nil {
			return err
		}
		if err := b.Put(keyBlob, blob); err != nil {
			return err
		}
		if err := b.Put(keyID, []byte(id)); err != nil {
			return err
		}
		return b.Put(keyUpdated, updated)
	})
	if cerr := db.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write temp cache: %w", err)
	}
	return nil
}

// Stats reports on the cached record without decoding the engine. ok is
// false when there is no readable record.
func (s *Store) Stats() (CacheStats, bool) {
	st := CacheStats{Path: s.path}
	if _, err := os.Stat(s.path); err != nil {
		return st, false
	}
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: openTimeout, ReadOnly: true})
	if err != nil {
		return st, false
	}
	defer func() { _ = db.Close() }()

	found := false
	_ = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEngine)
		if b == nil {
			return nil
		}
		v := b.Get(keyBlob)
		if v == nil {
			return nil
		}
		found = true
		st.Bytes = len(v)
		st.EngineID = string(b.Get(keyID))
		if u := b.Get(keyUpdated); len(u) == 8 {
			st.UpdatedUnix = int64(binary.BigEndian.Uint64(u))
		}
		return nil
	})
	return st, found
}
