package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"apollo/internal/backup"
	"apollo/internal/control"
	"apollo/internal/display"
	"apollo/internal/notify"
	"apollo/internal/platform/logger"
	"apollo/internal/platform/metrics"
	"apollo/internal/playback"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// run wires the node and blocks until a Close command or ctx ends it.
func run(ctx context.Context, opts options) error {
	log := logger.New(opts.logLevel, opts.logFormat)
	met := metrics.New()

	var store backup.Store
	if opts.backupLocation != "" {
		s, err := backup.Open(ctx, opts.backupLocation, opts.connectTimeout, log)
		if err != nil {
			log.Error("backup disabled, unable to connect", slog.String("error", err.Error()))
		} else {
			store = s
		}
	}
	syncer := backup.NewSynchronizer(backup.NewKeys(opts.backupPrefix, opts.address), store, log, met,
		backup.WithOpTimeout(opts.backupTimeout))
	defer func() {
		if err := syncer.Close(); err != nil {
			log.Error("unable to close backup store", slog.String("error", err.Error()))
		}
	}()

	driver, err := newDriver(opts.driver, log)
	if err != nil {
		return err
	}

	surfaceQueue := notify.NewQueue(opts.notifyQueueSize, onDrop(met, log, "display"))
	surface := display.NewSurface(log)
	notifiers := notify.Fanout{surfaceQueue}

	var publisher *notify.Publisher
	if opts.mqttBroker != "" {
		client, err := notify.DialMQTT(opts.mqttBroker, "apollo-"+uuid.NewString(), log)
		if err != nil {
			log.Error("mqtt events disabled", slog.String("broker", opts.mqttBroker), slog.String("error", err.Error()))
		} else {
			publisher = notify.NewPublisher(client, opts.mqttTopic, notify.NewQueue(opts.notifyQueueSize, onDrop(met, log, "mqtt")), log)
			notifiers = append(notifiers, publisher)
		}
	}

	d := control.NewDispatcher(driver, syncer, notifiers, log, met, control.WithSettle(opts.settle))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetDefinedChannels(d.Registry().ChannelCount()) }).ServeHTTP(w, r)
	})
	var layout control.LayoutSource
	if opts.layout {
		layout = surface
	}
	control.NewHandler(d, layout, log).Routes(r)

	srv := &http.Server{Addr: opts.address, Handler: r}

	log.Info("server starting",
		slog.String("address", opts.address),
		slog.String("driver", opts.driver),
		slog.Bool("backup", syncer.Connected()),
		slog.Bool("mqtt", publisher != nil),
		slog.Duration("settle", opts.settle),
	)

	g, gctx := errgroup.WithContext(ctx)
	// consumers outlive the dispatcher so they can drain the final events
	consumerCtx, stopConsumers := context.WithCancel(gctx)
	defer stopConsumers()

	g.Go(func() error {
		return d.Run(gctx)
	})
	g.Go(func() error {
		surface.Run(consumerCtx, surfaceQueue.Events())
		return nil
	})
	if publisher != nil {
		g.Go(func() error {
			publisher.Run(consumerCtx, opts.address)
			return nil
		})
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-d.Done():
			log.Info("close requested, stopping")
		case <-gctx.Done():
			log.Info("shutdown signal received, draining connections")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		stopConsumers()
		if err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", slog.String("error", err.Error()))
		return err
	}
	log.Info("server stopped")
	return nil
}

// onDrop counts and logs an event a full consumer queue could not take.
func onDrop(met *metrics.Metrics, log *slog.Logger, consumer string) func(notify.Event) {
	return func(e notify.Event) {
		met.IncNotificationsDropped()
		log.Warn("event dropped, queue full", slog.String("consumer", consumer), slog.String("event", e.Name()))
	}
}

func newDriver(name string, log *slog.Logger) (control.Driver, error) {
	if name == driverGStreamer {
		g, err := playback.NewGStreamer(log)
		if err != nil {
			return nil, fmt.Errorf("start gstreamer driver: %w", err)
		}
		return g, nil
	}
	return playback.NewSimulator(log), nil
}
