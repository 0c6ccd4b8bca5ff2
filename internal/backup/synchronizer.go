package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"apollo/internal/model"
	"apollo/internal/platform/metrics"

	"gopkg.in/yaml.v3"
)

// DefaultPrefix namespaces every key written by a node.
const DefaultPrefix = "apollo:"

// DefaultOpTimeout bounds a single store operation so a hung store cannot
// stall the dispatch loop.
const DefaultOpTimeout = 2 * time.Second

// Keys are the three store keys owned by one node.
type Keys struct {
	Windows  string
	Channels string
	Media    string
}

// NewKeys builds the key set for a node listening on address.
func NewKeys(prefix, address string) Keys {
	base := prefix + address
	return Keys{
		Windows:  base + ":windows",
		Channels: base + ":channels",
		Media:    base + ":media",
	}
}

// All returns the keys in deletion order.
func (k Keys) All() []string {
	return []string{k.Media, k.Channels, k.Windows}
}

// Snapshot is the persisted triple reloaded at startup.
type Snapshot struct {
	Windows  []model.WindowDefinition
	Channels []model.MediaChannel
	Playlist model.Playlist
}

// Synchronizer mirrors registry snapshots into a Store. Writes are best
// effort: failures are logged and counted, never returned.
//
// A Synchronizer is not safe for concurrent use; the dispatcher is its only caller.
type Synchronizer struct {
	keys      Keys
	store     Store // nil while checked out, or when the node runs without backup
	log       *slog.Logger
	metrics   *metrics.Metrics
	opTimeout time.Duration

	now         func() time.Time
	lastAdvance time.Time
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithOpTimeout overrides DefaultOpTimeout.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// NewSynchronizer returns a Synchronizer writing under keys. store may be nil,
// in which case every operation is a silent no-op. Metrics may be nil.
func NewSynchronizer(keys Keys, store Store, log *slog.Logger, m *metrics.Metrics, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		keys:      keys,
		store:     store,
		log:       log,
		metrics:   m,
		opTimeout: DefaultOpTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastAdvance = s.now()
	return s
}

// Keys returns the keys this Synchronizer owns.
func (s *Synchronizer) Keys() Keys {
	return s.keys
}

// Connected reports whether a store is attached.
func (s *Synchronizer) Connected() bool {
	return s.store != nil
}

// PersistWindows writes the ordered window list.
func (s *Synchronizer) PersistWindows(ctx context.Context, windows []model.WindowDefinition) {
	if windows == nil {
		windows = []model.WindowDefinition{}
	}
	s.write(ctx, "windows", s.keys.Windows, windows)
}

// PersistChannels writes the ordered channel list.
func (s *Synchronizer) PersistChannels(ctx context.Context, channels []model.MediaChannel) {
	if channels == nil {
		channels = []model.MediaChannel{}
	}
	s.write(ctx, "channels", s.keys.Channels, channels)
}

// PersistMedia writes the playlist.
func (s *Synchronizer) PersistMedia(ctx context.Context, playlist model.Playlist) {
	if playlist == nil {
		playlist = model.Playlist{}
	}
	s.write(ctx, "media", s.keys.Media, playlist)
}

// AdvanceClock returns the wall-clock time elapsed since the previous call
// (or since construction) and restarts the measurement. The dispatcher adds
// it to every playback entry before persisting media, so stored positions
// follow real time between explicit seeks.
func (s *Synchronizer) AdvanceClock() time.Duration {
	now := s.now()
	elapsed := now.Sub(s.lastAdvance)
	s.lastAdvance = now
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Reload fetches the previous session. ok is false when no media key exists,
// meaning there is nothing to resume. A key that is missing or fails to
// decode yields its empty value; the others are still returned. Keys are
// left in place.
func (s *Synchronizer) Reload(ctx context.Context) (snap Snapshot, ok bool) {
	store, held := s.take()
	if !held {
		return Snapshot{}, false
	}
	defer s.restore(store)

	media, found := s.get(ctx, store, s.keys.Media)
	if !found {
		return Snapshot{}, false
	}

	s.log.Warn("detected lingering backup data, reloading", slog.String("key", s.keys.Media))

	snap.Playlist = model.Playlist{}
	if err := yaml.Unmarshal([]byte(media), &snap.Playlist); err != nil || snap.Playlist == nil {
		s.logDecode(s.keys.Media, err)
		snap.Playlist = model.Playlist{}
	}

	if raw, found := s.get(ctx, store, s.keys.Windows); found {
		if err := yaml.Unmarshal([]byte(raw), &snap.Windows); err != nil {
			s.logDecode(s.keys.Windows, err)
			snap.Windows = nil
		}
	}

	if raw, found := s.get(ctx, store, s.keys.Channels); found {
		if err := yaml.Unmarshal([]byte(raw), &snap.Channels); err != nil {
			s.logDecode(s.keys.Channels, err)
			snap.Channels = nil
		}
	}

	return snap, true
}

// Shutdown deletes every key of this node and closes the store. Errors are
// swallowed; the process is terminating.
func (s *Synchronizer) Shutdown(ctx context.Context) {
	store, held := s.take()
	if !held {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	for _, key := range s.keys.All() {
		if err := store.Delete(opCtx, key); err != nil {
			s.log.Debug("backup delete failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	if err := store.Close(); err != nil {
		s.log.Debug("backup store close failed", slog.String("error", err.Error()))
	}
}

// Close releases the store and leaves the backup in place for the next
// start. It is a no-op after Shutdown.
func (s *Synchronizer) Close() error {
	store, held := s.take()
	if !held {
		return nil
	}
	return store.Close()
}

// take checks the store out. Every successful take must be paired with a
// deferred restore.
func (s *Synchronizer) take() (Store, bool) {
	store := s.store
	s.store = nil
	return store, store != nil
}

func (s *Synchronizer) restore(store Store) {
	s.store = store
}

func (s *Synchronizer) write(ctx context.Context, kind, key string, v any) {
	store, held := s.take()
	if !held {
		return
	}
	defer s.restore(store)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("backup write panicked", slog.String("key", key), slog.Any("panic", r))
			s.observe(kind, "error")
		}
	}()

	data, err := yaml.Marshal(v)
	if err != nil {
		s.log.Error("unable to encode backup", slog.String("key", key), slog.String("error", err.Error()))
		s.observe(kind, "error")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := store.Set(opCtx, key, string(data)); err != nil {
		s.log.Error("unable to write backup", slog.String("key", key), slog.String("error", err.Error()))
		s.observe(kind, "error")
		return
	}
	s.observe(kind, "ok")
}

func (s *Synchronizer) get(ctx context.Context, store Store, key string) (string, bool) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	v, err := store.Get(opCtx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("unable to read backup", slog.String("key", key), slog.String("error", err.Error()))
		}
		return "", false
	}
	return v, true
}

func (s *Synchronizer) logDecode(key string, err error) {
	if err == nil {
		err = fmt.Errorf("empty document")
	}
	s.log.Error("unable to decode backup, using empty value", slog.String("key", key), slog.String("error", err.Error()))
}

func (s *Synchronizer) observe(kind, result string) {
	if s.metrics != nil {
		s.metrics.ObserveBackupWrite(kind, result)
	}
}
