package backup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// Open connects to the store named by location:
//
//	redis://host:port/db, rediss://...  Redis
//	sqlite:///path/to/file.db, *.db      SQLite
//	memory://                            in-memory (tests, demos)
//
// Transient connection errors are retried with exponential backoff until
// timeout elapses; a timeout <= 0 allows a single attempt. An unknown scheme
// fails immediately.
func Open(ctx context.Context, location string, timeout time.Duration, log *slog.Logger) (Store, error) {
	open, err := opener(location)
	if err != nil {
		return nil, err
	}

	var b backoff.BackOff = backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxInterval(2*time.Second),
		backoff.WithMaxElapsedTime(timeout),
	)
	if timeout <= 0 {
		// a zero MaxElapsedTime would retry forever
		b = backoff.WithMaxRetries(b, 0)
	}

	var store Store
	op := func() error {
		s, err := open(ctx)
		if err != nil {
			return err
		}
		store = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("backup store not reachable, retrying",
			slog.String("location", location),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("connect backup store %s: %w", location, err)
	}

	if rs, ok := store.(*RedisStore); ok {
		if err := rs.ConfigureSnapshots(ctx); err != nil {
			log.Error("unable to set redis snapshot settings", slog.String("error", err.Error()))
		}
	}
	return store, nil
}

func opener(location string) (func(context.Context) (Store, error), error) {
	switch {
	case strings.HasPrefix(location, "redis://"), strings.HasPrefix(location, "rediss://"):
		if _, err := redis.ParseURL(location); err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return func(ctx context.Context) (Store, error) { return OpenRedis(ctx, location) }, nil
	case strings.HasPrefix(location, "sqlite://"):
		path := strings.TrimPrefix(location, "sqlite://")
		return func(ctx context.Context) (Store, error) { return OpenSQLite(ctx, path) }, nil
	case strings.HasSuffix(location, ".db"):
		return func(ctx context.Context) (Store, error) { return OpenSQLite(ctx, location) }, nil
	case location == "memory://":
		return func(context.Context) (Store, error) { return NewMemoryStore(), nil }, nil
	}
	return nil, fmt.Errorf("unsupported backup location %q", location)
}
