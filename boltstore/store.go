// Package boltstore is a file-backed rewind.Backend built on bbolt. Each
// aggregate gets its own nested bucket whose keys are big-endian versions,
// so a cursor walks an aggregate's history in version order
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/kode4food/rewind"
)

type (
	// Store is a bbolt-backed rewind.Backend
	Store struct {
		db     *bolt.DB
		logger *zap.Logger
	}

	// Config describes the database file
	Config struct {
		Path        string        `toml:"path"`
		FileMode    os.FileMode   `toml:"file_mode"`
		OpenTimeout time.Duration `toml:"open_timeout"`
	}

	// Option configures a Store
	Option func(*Store)
)

const (
	DefaultPath        = "rewind.db"
	DefaultFileMode    = 0o600
	DefaultOpenTimeout = time.Second
)

var (
	// ErrCorruptKey indicates a stored key that is not an encoded version
	ErrCorruptKey = errors.New("corrupt version key")

	eventsBucket = []byte("events")
	jsonCodec    = jsoniter.ConfigCompatibleWithStandardLibrary
)

var (
	_ rewind.Backend = (*Store)(nil)
	_ rewind.Lister  = (*Store)(nil)
)

// DefaultConfig returns a Config for a database file in the working
// directory
func DefaultConfig() Config {
	return Config{
		Path:        DefaultPath,
		FileMode:    DefaultFileMode,
		OpenTimeout: DefaultOpenTimeout,
	}
}

// WithLogger sets the logger the Store reports to
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open opens or creates the database file and prepares its root bucket
func Open(cfg Config, opts ...Option) (*Store, error) {
	mode := cfg.FileMode
	if mode == 0 {
		mode = DefaultFileMode
	}
	db, err := bolt.Open(cfg.Path, mode, &bolt.Options{
		Timeout: cfg.OpenTimeout,
	})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eventsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database file
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) AppendBatch(
	_ context.Context, evs []*rewind.Envelope,
) error {
	if len(evs) == 0 {
		return nil
	}
	if err := rewind.CheckBatch(evs); err != nil {
		return err
	}

	id := evs[0].AggregateID
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(eventsBucket).CreateBucketIfNotExists(id[:])
		if err != nil {
			return err
		}

		latest, err := lastVersion(b)
		if err != nil {
			return err
		}
		if evs[0].Version != latest+1 {
			return fmt.Errorf("%w: expected version %d, but at %d",
				rewind.ErrVersionConflict, evs[0].Version-1, latest,
			)
		}

		for _, ev := range evs {
			data, err := jsonCodec.Marshal(ev)
			if err != nil {
				return err
			}
			if err := b.Put(versionKey(ev.Version), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("events appended",
		zap.Stringer("aggregate_id", id),
		zap.Int("event_count", len(evs)),
	)
	return nil
}

func (s *Store) QueryByID(
	_ context.Context, id rewind.ID,
) ([]*rewind.Envelope, error) {
	return s.scan(id, func(*rewind.Envelope) bool { return true })
}

func (s *Store) QueryByVersion(
	_ context.Context, id rewind.ID, ceiling rewind.Version,
) ([]*rewind.Envelope, error) {
	return s.scan(id, func(ev *rewind.Envelope) bool {
		return ev.Version <= ceiling
	})
}

func (s *Store) QueryByTime(
	ctx context.Context, id rewind.ID, instant time.Time,
) ([]*rewind.Envelope, error) {
	evs, err := s.QueryByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return rewind.SelectTime(evs, instant), nil
}

// ListIDs returns the identities of every stored aggregate
func (s *Store) ListIDs(context.Context) ([]rewind.ID, error) {
	var ids []rewind.ID
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(eventsBucket).ForEachBucket(func(k []byte) error {
			var id rewind.ID
			if len(k) != len(id) {
				return ErrCorruptKey
			}
			copy(id[:], k)
			ids = append(ids, id)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// scan walks the aggregate's bucket in version order and stops at the first
// envelope that does not match
func (s *Store) scan(
	id rewind.ID, match func(*rewind.Envelope) bool,
) ([]*rewind.Envelope, error) {
	res := []*rewind.Envelope{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(eventsBucket).Bucket(id[:])
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			ev := &rewind.Envelope{}
			if err := jsonCodec.Unmarshal(bytes.Clone(v), ev); err != nil {
				return err
			}
			if !match(ev) {
				return nil
			}
			res = append(res, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func lastVersion(b *bolt.Bucket) (rewind.Version, error) {
	k, _ := b.Cursor().Last()
	if k == nil {
		return 0, nil
	}
	if len(k) != 8 {
		return 0, ErrCorruptKey
	}
	return rewind.Version(binary.BigEndian.Uint64(k)), nil
}

func versionKey(v rewind.Version) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(v))
	return k
}
