package control

import (
	"context"
	"log/slog"
	"time"

	"apollo/internal/model"
	"apollo/internal/notify"
)

// replay restores the last backup: windows, then channels, then every
// playback entry is cued from zero, left to settle, sought to its stored
// position plus the settle time, and paused where needed. A failure on one
// entry is logged and the rest continue.
func (d *Dispatcher) replay(ctx context.Context) {
	snap, ok := d.backup.Reload(ctx)
	if !ok {
		d.log.Info("no backup to recover")
		return
	}
	log := d.log.With(slog.String("phase", "recovery"))

	for _, w := range snap.Windows {
		if err := d.registry.DefineWindow(w); err != nil {
			log.Warn("skipping window", slog.Int("window", int(w.WindowNumber)), slog.String("error", err.Error()))
			continue
		}
		d.notifier.Notify(notify.WindowDefined{Window: w})
	}

	for _, ch := range snap.Channels {
		stream, err := d.driver.DefineChannel(ch)
		if err != nil {
			log.Warn("unable to redefine channel, keeping it unbound", slog.Int("channel", int(ch.Channel)), slog.String("error", err.Error()))
			d.registry.KeepUnbound(ch)
			continue
		}
		if stream != nil {
			d.notifier.Notify(notify.VideoStreamAdded{Stream: *stream})
		}
		if err := d.registry.DefineChannel(ch); err != nil {
			log.Warn("skipping channel", slog.Int("channel", int(ch.Channel)), slog.String("error", err.Error()))
		}
	}

	playlist := snap.Playlist
	order := d.registry.PlaybackOrder(playlist)
	d.registry.SetPlaylist(playlist)
	d.backup.AdvanceClock()
	if d.metrics != nil {
		d.metrics.SetDefinedChannels(d.registry.ChannelCount())
		d.metrics.SetRecoveredChannels(len(order))
	}
	log.Info("backup reloaded",
		slog.Int("windows", len(snap.Windows)),
		slog.Int("channels", len(snap.Channels)),
		slog.Int("playback", len(order)))

	if len(order) == 0 {
		return
	}

	for _, ch := range order {
		cue := playlist[ch].MediaCue
		cue.Channel = ch
		if err := d.driver.CueMedia(cue); err != nil {
			log.Warn("unable to cue media", slog.Int("channel", int(ch)), slog.String("uri", cue.URI), slog.String("error", err.Error()))
		}
	}

	if d.settle > 0 {
		timer := time.NewTimer(d.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("recovery interrupted before seeking")
			return
		case <-timer.C:
		}
	}

	for _, ch := range order {
		pb := playlist[ch]
		pb.Advance(d.settle)
		seek := model.ChannelSeek{Channel: ch, Position: model.ToMillis(pb.SeekTo)}
		if err := d.driver.Seek(seek); err != nil {
			log.Warn("unable to seek", slog.Int("channel", int(ch)), slog.Int64("position_ms", int64(seek.Position)), slog.String("error", err.Error()))
		}
	}

	for _, ch := range order {
		pb := playlist[ch]
		if pb.State == model.Playing {
			continue
		}
		if err := d.driver.ChangeState(model.ChannelState{Channel: ch, State: pb.State}); err != nil {
			log.Warn("unable to restore state", slog.Int("channel", int(ch)), slog.String("state", string(pb.State)), slog.String("error", err.Error()))
		}
	}
}
