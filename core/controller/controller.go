package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"KaraFM/core/player"
	"KaraFM/core/queue"
	"KaraFM/core/splash"
	"KaraFM/logger"
	"KaraFM/model"
)

// HistoryRecorder persists completed performances. May be a no-op when no
// database is configured.
type HistoryRecorder interface {
	Record(entry model.QueueEntry, playedSeconds float64) error
}

// Controller is the top-level state machine: it pulls the next queue entry
// when the supervisor goes idle, relays splash client reports, and feeds
// completion back into the queue. All "what plays next" decisions run on
// the single Run goroutine, so two rapid skips can never start two
// subprocesses.
type Controller struct {
	queue   *queue.Manager
	sup     *player.Supervisor
	hub     *splash.Hub
	history HistoryRecorder

	kick chan struct{}

	mu           sync.Mutex
	lastRevision string
}

// New wires a controller. history may be nil.
func New(q *queue.Manager, sup *player.Supervisor, hub *splash.Hub, history HistoryRecorder) *Controller {
	return &Controller{
		queue:   q,
		sup:     sup,
		hub:     hub,
		history: history,
		kick:    make(chan struct{}, 1),
	}
}

// Kick nudges the controller to re-evaluate the queue. Coalesces when a
// kick is already pending.
func (c *Controller) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Run drives the orchestration loop until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.sup.Stop(model.ReasonSplashClosed)
			return

		case <-c.kick:
			c.tryStartNext()
			c.broadcastState()

		case ev := <-c.sup.Events():
			c.handleStop(ev)

		case ev := <-c.hub.Events():
			c.handleClientEvent(ev)
		}
	}
}

// Snapshot returns the canonical now-playing state, including the next
// queued entry. Safe to call from any goroutine.
func (c *Controller) Snapshot() model.NowPlayingState {
	var upNext *model.QueueEntry
	if e, ok := c.queue.Peek(); ok {
		upNext = &e
	}
	return c.sup.Snapshot(upNext)
}

// Apply executes a validated control command.
func (c *Controller) Apply(cmd model.Control) error {
	switch cmd.Kind {
	case model.ControlPause:
		c.sup.Pause()
	case model.ControlResume:
		c.sup.Resume()
	case model.ControlSkip:
		c.sup.Stop(model.ReasonSkipped)
	case model.ControlRestart:
		if err := c.sup.Restart(); err != nil {
			return err
		}
	case model.ControlSetVolume:
		c.sup.SetVolume(cmd.Volume)
	case model.ControlVolumeUp:
		c.sup.NudgeVolume(0.1)
	case model.ControlVolumeDown:
		c.sup.NudgeVolume(-0.1)
	case model.ControlTranspose:
		if err := c.sup.Transpose(cmd.Semitones); err != nil {
			return err
		}
	default:
		return fmt.Errorf("controller: unhandled control kind %d", cmd.Kind)
	}
	c.broadcastState()
	return nil
}

// Notify pushes a user-facing notification to every splash client.
func (c *Controller) Notify(n model.Notification) {
	c.hub.PushNotification(n)
}

// ShowMessage displays a one-shot message on the splash screens.
func (c *Controller) ShowMessage(message string) {
	c.sup.ShowMessage(message)
	c.broadcastState()
}

// tryStartNext starts the next queued entry if the playback slot is free.
// A start failure advances to the following entry instead of retrying, so
// one bad file cannot block the party.
func (c *Controller) tryStartNext() {
	for c.sup.State() == player.StateIdle {
		entry, ok := c.queue.PopNext()
		if !ok {
			return
		}

		err := c.sup.Start(entry)
		if err == nil {
			return
		}

		if errors.Is(err, player.ErrNotIdle) {
			// Slot raced busy; put the entry back at the front.
			if qerr := c.queue.Enqueue(entry, queue.Top); qerr != nil {
				logger.Error("could not requeue entry", logger.ErrorField(qerr))
			}
			return
		}

		logger.Error("playback start failed, advancing queue",
			logger.ErrorField(err),
			logger.String("title", entry.Title))
		c.Notify(model.Notification{
			Message:  fmt.Sprintf("Failed to play %s", entry.Title),
			Severity: model.SeverityError,
		})
	}
}

// handleStop processes the supervisor's hand-off when a song ends.
func (c *Controller) handleStop(ev player.StopEvent) {
	switch ev.Reason {
	case model.ReasonComplete:
		if c.history != nil {
			if err := c.history.Record(ev.Entry, ev.Played); err != nil {
				logger.Warn("could not record play history", logger.ErrorField(err))
			}
		}
	case model.ReasonFailedToStart:
		c.hub.PushSkip(ev.Reason)
		c.Notify(model.Notification{
			Message:  fmt.Sprintf("Could not start %s", ev.Entry.Title),
			Severity: model.SeverityError,
		})
	default:
		// Tell clients to stop rendering the aborted song.
		c.hub.PushSkip(ev.Reason)
	}

	c.tryStartNext()
	c.broadcastState()
}

// handleClientEvent dispatches a validated splash client report.
func (c *Controller) handleClientEvent(ev splash.ClientEvent) {
	switch ev.Type {
	case splash.MsgStartSong:
		c.sup.OnSongStarted()
		c.broadcastState()

	case splash.MsgEndSong:
		c.sup.OnSongEnded(ev.Reason)
		// The resulting StopEvent drives queue advancement.

	case splash.MsgClearNotification:
		c.hub.PushNotification(model.Notification{})
	}
}

// broadcastState pushes a fresh snapshot when anything observable changed.
func (c *Controller) broadcastState() {
	st := c.Snapshot()

	c.mu.Lock()
	changed := st.Revision != c.lastRevision
	if changed {
		c.lastRevision = st.Revision
	}
	c.mu.Unlock()

	if !changed {
		return
	}
	c.hub.BroadcastState(st)
	if st.Command != model.CommandNone {
		// One-shot commands are consumed by this broadcast.
		c.sup.ClearCommand()
	}
}
