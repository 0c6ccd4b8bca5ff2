package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"apollo/internal/backup"
	"apollo/internal/model"
	"apollo/internal/notify"
	"apollo/internal/platform/metrics"

	"github.com/google/uuid"
)

// DefaultSettle is how long recovery waits between cueing and seeking.
const DefaultSettle = 500 * time.Millisecond

// ErrDispatcherClosed is returned by Submit once the dispatch loop has ended.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Driver plays media on behalf of the dispatcher. Calls are synchronous and
// come from the dispatch goroutine only.
type Driver interface {
	DefineChannel(model.MediaChannel) (*model.VideoStream, error)
	CueMedia(model.MediaCue) error
	ChangeState(model.ChannelState) error
	Seek(model.ChannelSeek) error
	AllStop() error
	Close() error
}

// Backup mirrors the registry to a store. It never reports write errors.
type Backup interface {
	PersistWindows(ctx context.Context, windows []model.WindowDefinition)
	PersistChannels(ctx context.Context, channels []model.MediaChannel)
	PersistMedia(ctx context.Context, playlist model.Playlist)
	AdvanceClock() time.Duration
	Reload(ctx context.Context) (backup.Snapshot, bool)
	Shutdown(ctx context.Context)
}

type envelope struct {
	req   Request
	reply chan Reply
}

// Dispatcher runs every command against the registry, driver, notifier and
// backup from a single goroutine, one command at a time.
type Dispatcher struct {
	registry *Registry
	driver   Driver
	backup   Backup
	notifier notify.Notifier
	log      *slog.Logger
	metrics  *metrics.Metrics
	settle   time.Duration

	requests chan envelope
	done     chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSettle overrides DefaultSettle.
func WithSettle(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d >= 0 {
			dp.settle = d
		}
	}
}

// NewDispatcher returns a Dispatcher. Metrics may be nil.
func NewDispatcher(driver Driver, b Backup, n notify.Notifier, log *slog.Logger, m *metrics.Metrics, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: NewRegistry(),
		driver:   driver,
		backup:   b,
		notifier: n,
		log:      log,
		metrics:  m,
		settle:   DefaultSettle,
		requests: make(chan envelope),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the registry owned by the dispatcher.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Submit hands req to the dispatch loop and waits for its reply. Requests
// submitted before Run starts wait until recovery has finished.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Reply, error) {
	env := envelope{req: req, reply: make(chan Reply, 1)}

	select {
	case d.requests <- env:
	case <-d.done:
		return Reply{}, ErrDispatcherClosed
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}

	select {
	case r := <-env.reply:
		return r, nil
	case <-d.done:
		select {
		case r := <-env.reply:
			return r, nil
		default:
			return Reply{}, ErrDispatcherClosed
		}
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Run recovers the last backup, then processes commands until a Close
// command or ctx is done. Close removes the backup; cancellation keeps it so
// the next start resumes where this one stopped.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	defer func() {
		if err := d.driver.Close(); err != nil {
			d.log.Error("unable to close playback driver", slog.String("error", err.Error()))
		}
	}()

	d.replay(ctx)
	d.log.Info("dispatcher ready", slog.Int("channels", d.registry.ChannelCount()))

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped, backup kept")
			return nil
		case env := <-d.requests:
			if stop := d.handle(ctx, env); stop {
				d.notifier.Notify(notify.Closed{})
				d.backup.Shutdown(ctx)
				d.log.Info("dispatcher closed, backup removed")
				return nil
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, env envelope) bool {
	cmd := env.req.Command()
	log := d.log.With(slog.String("request_id", uuid.NewString()), slog.String("command", cmd))

	start := time.Now()
	reply, stop := d.execute(ctx, log, env.req)
	env.reply <- reply

	result := "ok"
	if !reply.IsValid {
		result = "rejected"
	}
	log.Debug("command processed",
		slog.String("result", result),
		slog.String("message", reply.Message),
		slog.Int("duration_ms", int(time.Since(start).Milliseconds())))
	if d.metrics != nil {
		d.metrics.ObserveCommand(cmd, result)
	}
	return stop
}

func (d *Dispatcher) execute(ctx context.Context, log *slog.Logger, req Request) (reply Reply, stop bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("command panicked", slog.String("panic", fmt.Sprint(r)))
			reply, stop = Failure(msgUnavailable), false
		}
	}()

	switch r := req.(type) {
	case AlignChannel:
		return d.alignChannel(ctx, log, r), false
	case AllStop:
		return d.allStop(log), false
	case DefineWindow:
		return d.defineWindow(ctx, log, r), false
	case DefineChannel:
		return d.defineChannel(ctx, log, r), false
	case CueMedia:
		return d.cueMedia(ctx, log, r), false
	case ChangeState:
		return d.changeState(ctx, log, r), false
	case ResizeChannel:
		return d.resizeChannel(ctx, log, r), false
	case Seek:
		return d.seek(ctx, log, r), false
	case Close:
		return Success(), true
	default:
		log.Warn("unknown request type", slog.String("type", fmt.Sprintf("%T", req)))
		return Failure(msgUnavailable), false
	}
}

func (d *Dispatcher) alignChannel(ctx context.Context, log *slog.Logger, r AlignChannel) Reply {
	if !r.Direction.Valid() {
		return Failure(fmt.Sprintf("invalid direction %q", r.Direction))
	}
	f, err := d.registry.Realign(r.ChannelRealignment)
	if err != nil {
		log.Info("realign rejected", slog.Int("channel", int(r.Channel)), slog.String("error", err.Error()))
		return Failure(err.Error())
	}
	d.notifier.Notify(notify.Realigned{Realignment: r.ChannelRealignment})
	d.backup.PersistChannels(ctx, d.registry.Channels())
	log.Debug("channel realigned", slog.Int("channel", int(r.Channel)), slog.Int("top", int(f.Top)), slog.Int("left", int(f.Left)))
	return Success()
}

func (d *Dispatcher) allStop(log *slog.Logger) Reply {
	if err := d.driver.AllStop(); err != nil {
		log.Error("all stop failed", slog.String("error", err.Error()))
		return Failure(err.Error())
	}
	log.Info("all channels stopped")
	return Success()
}

func (d *Dispatcher) defineWindow(ctx context.Context, log *slog.Logger, r DefineWindow) Reply {
	if err := d.registry.DefineWindow(r.WindowDefinition); err != nil {
		log.Info("window rejected", slog.Int("window", int(r.WindowNumber)), slog.String("error", err.Error()))
		return Failure(msgWindowDefined)
	}
	d.notifier.Notify(notify.WindowDefined{Window: r.WindowDefinition})
	d.backup.PersistWindows(ctx, d.registry.Windows())
	log.Info("window defined", slog.Int("window", int(r.WindowNumber)))
	return Success()
}

func (d *Dispatcher) defineChannel(ctx context.Context, log *slog.Logger, r DefineChannel) Reply {
	if err := d.registry.CheckChannel(r.MediaChannel); err != nil {
		log.Info("channel rejected", slog.Int("channel", int(r.Channel)), slog.String("error", err.Error()))
		return Failure(err.Error())
	}
	stream, err := d.driver.DefineChannel(r.MediaChannel)
	if err != nil {
		log.Warn("driver could not define channel", slog.Int("channel", int(r.Channel)), slog.String("error", err.Error()))
		return Failure(err.Error())
	}
	if stream != nil {
		d.notifier.Notify(notify.VideoStreamAdded{Stream: *stream})
	}
	if err := d.registry.DefineChannel(r.MediaChannel); err != nil {
		return Failure(err.Error())
	}
	d.backup.PersistChannels(ctx, d.registry.Channels())
	if d.metrics != nil {
		d.metrics.SetDefinedChannels(d.registry.ChannelCount())
	}
	log.Info("channel defined", slog.Int("channel", int(r.Channel)), slog.Bool("video", stream != nil))
	return Success()
}

func (d *Dispatcher) cueMedia(ctx context.Context, log *slog.Logger, r CueMedia) Reply {
	if err := d.driver.CueMedia(r.MediaCue); err != nil {
		log.Warn("cue failed", slog.Int("channel", int(r.Channel)), slog.String("uri", r.URI), slog.String("error", err.Error()))
		return Failure(err.Error())
	}
	d.registry.Advance(d.backup.AdvanceClock())
	d.registry.Cue(r.MediaCue)
	d.backup.PersistMedia(ctx, d.registry.Playlist())
	log.Info("media cued", slog.Int("channel", int(r.Channel)), slog.String("uri", r.URI))
	return Success()
}

func (d *Dispatcher) changeState(ctx context.Context, log *slog.Logger, r ChangeState) Reply {
	if !r.State.Valid() {
		return Failure(fmt.Sprintf("invalid state %q", r.State))
	}
	if err := d.driver.ChangeState(r.ChannelState); err != nil {
		log.Warn("state change failed", slog.Int("channel", int(r.Channel)), slog.String("error", err.Error()))
		return Failure(err.Error())
	}
	d.registry.Advance(d.backup.AdvanceClock())
	if err := d.registry.SetState(r.ChannelState); err != nil {
		log.Info("state change not recorded", slog.Int("channel", int(r.Channel)), slog.String("error", err.Error()))
		return Failure(err.Error())
	}
	d.backup.PersistMedia(ctx, d.registry.Playlist())
	log.Info("state changed", slog.Int("channel", int(r.Channel)), slog.String("state", string(r.State)))
	return Success()
}

func (d *Dispatcher) resizeChannel(ctx context.Context, log *slog.Logger, r ResizeChannel) Reply {
	if err := d.registry.Resize(r.ChannelAllocation); err != nil {
		log.Info("resize rejected", slog.Int("channel", int(r.Channel)), slog.String("error", err.Error()))
		return Failure(err.Error())
	}
	d.notifier.Notify(notify.Resized{Allocation: r.ChannelAllocation})
	d.backup.PersistChannels(ctx, d.registry.Channels())
	log.Debug("channel resized", slog.Int("channel", int(r.Channel)))
	return Success()
}

func (d *Dispatcher) seek(ctx context.Context, log *slog.Logger, r Seek) Reply {
	if err := d.driver.Seek(r.ChannelSeek); err != nil {
		log.Warn("seek failed", slog.Int("channel", int(r.Channel)), slog.String("error", err.Error()))
		return Failure(err.Error())
	}
	d.registry.Advance(d.backup.AdvanceClock())
	if err := d.registry.SetPosition(r.ChannelSeek); err != nil {
		log.Info("seek not recorded", slog.Int("channel", int(r.Channel)), slog.String("error", err.Error()))
		return Failure(err.Error())
	}
	d.backup.PersistMedia(ctx, d.registry.Playlist())
	log.Debug("channel seeked", slog.Int("channel", int(r.Channel)), slog.Int64("position_ms", int64(r.Position)))
	return Success()
}
