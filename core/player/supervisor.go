package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"KaraFM/config"
	"KaraFM/logger"
	"KaraFM/model"
)

// State is the supervisor's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateStarting
	StatePlaying
	StatePaused
	StateEnding
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnding:
		return "ending"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// ErrNotIdle reports a Start while a song is still active. This is a
// controller bug, not a user error; the supervisor force-resets to idle so
// the party keeps going.
var ErrNotIdle = errors.New("player: supervisor not idle")

// StopEvent is the single hand-off from the supervisor back to the
// controller when playback of an entry ends, for any reason.
type StopEvent struct {
	Entry  model.QueueEntry
	Reason model.EndReason
	// Played is how many seconds of the song actually played.
	Played float64
}

// Notifier pushes control events to splash clients. Pause/resume are
// signaled to the rendering client rather than restarting the subprocess.
type Notifier interface {
	PushPlay()
	PushPause()
	PushSkip(reason model.EndReason)
	PushRestart()
	PushVolume(volume float64)
}

// Supervisor owns at most one transcode subprocess at a time and the
// playback slice of the now-playing state. It never blocks the controller
// loop waiting on the subprocess; exit detection is event-driven.
type Supervisor struct {
	transcoder Transcoder
	notifier   Notifier
	streamDir  string
	policy     config.Policy
	bitrate    string
	grace      time.Duration // SIGTERM to SIGKILL escalation window

	events chan StopEvent

	mu          sync.Mutex
	state       State
	current     *model.QueueEntry
	proc        Process
	procGen     int // invalidates monitors and timers of replaced processes
	stopping    bool
	volume      float64
	duration    float64
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	command     model.SplashCommand
	message     string
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor(transcoder Transcoder, notifier Notifier, streamDir string, policy config.Policy, bitrate string) *Supervisor {
	return &Supervisor{
		transcoder: transcoder,
		notifier:   notifier,
		streamDir:  streamDir,
		policy:     policy,
		bitrate:    bitrate,
		grace:      3 * time.Second,
		events:     make(chan StopEvent, 8),
		volume:     0.85,
	}
}

// Events returns the stop hand-off channel consumed by the controller.
func (s *Supervisor) Events() <-chan StopEvent {
	return s.events
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StreamFile returns the path splash clients stream for the active song.
func (s *Supervisor) StreamFile() string {
	return TranscodeSpec{OutputDir: s.streamDir, Full: s.policy.FullTranscode}.OutputFile()
}

// Start begins playback of an entry. Valid only from idle; calling it in
// any other state is an invariant violation that forces a reset.
func (s *Supervisor) Start(entry model.QueueEntry) error {
	s.mu.Lock()
	if s.state != StateIdle {
		logger.Error("start requested while supervisor busy",
			logger.String("state", s.state.String()),
			logger.String("title", entry.Title))
		s.state = StateErrored
		proc := s.detachLocked()
		s.state = StateIdle
		s.mu.Unlock()
		if proc != nil {
			s.terminate(proc)
		}
		return ErrNotIdle
	}
	s.mu.Unlock()

	return s.launch(entry)
}

// launch resets the stream directory and starts a transcode process for
// entry, then commits it as the active song. The duration probe and the
// process spawn both block on subprocess I/O, so they run without the lock;
// state reads must stay responsive while ffmpeg warms up. The commit
// re-checks that the slot is still free.
func (s *Supervisor) launch(entry model.QueueEntry) error {
	if err := os.RemoveAll(s.streamDir); err != nil {
		logger.Warn("could not clear stream directory", logger.ErrorField(err))
	}

	duration, err := s.transcoder.Duration(entry.FilePath)
	if err != nil {
		logger.Warn("could not probe media duration",
			logger.ErrorField(err),
			logger.String("file", entry.FilePath))
	}

	spec := TranscodeSpec{
		InputPath:     entry.FilePath,
		OutputDir:     s.streamDir,
		Transpose:     entry.Transpose,
		Normalize:     s.policy.NormalizeAudio,
		Full:          s.policy.FullTranscode,
		BufferSeconds: s.policy.BufferSeconds,
		Bitrate:       s.bitrate,
	}
	proc, err := s.transcoder.Start(context.Background(), spec)
	if err != nil {
		return fmt.Errorf("transcode pipeline failed to start: %w", err)
	}

	s.mu.Lock()
	if s.state != StateIdle {
		// Someone claimed the slot while we were probing. Back off.
		s.mu.Unlock()
		logger.Error("playback slot taken during launch",
			logger.String("title", entry.Title))
		s.terminate(proc)
		return ErrNotIdle
	}
	entryCopy := entry
	s.current = &entryCopy
	s.proc = proc
	s.state = StateStarting
	s.stopping = false
	s.duration = duration
	s.startedAt = time.Time{}
	s.pausedTotal = 0
	s.procGen++
	gen := s.procGen
	s.mu.Unlock()

	go s.monitor(gen, proc)
	time.AfterFunc(s.policy.StartTimeout, func() { s.ackTimeout(gen) })

	logger.Info("playback starting",
		logger.String("title", entry.Title),
		logger.String("singer", entry.Singer),
		logger.Int("transpose", entry.Transpose),
		logger.Float64("duration", duration))
	return nil
}

// monitor watches for out-of-band subprocess exit. A clean exit just means
// transcoding finished ahead of playback; a nonzero exit while the song is
// active ends it with a playback error.
func (s *Supervisor) monitor(gen int, proc Process) {
	<-proc.Done()
	err := proc.Err()

	s.mu.Lock()
	if s.procGen != gen || s.stopping {
		s.mu.Unlock()
		return
	}
	state := s.state
	s.mu.Unlock()

	if err == nil {
		logger.Debug("transcode finished ahead of playback")
		return
	}

	logger.Error("transcode process died", logger.ErrorField(err), logger.String("state", state.String()))
	if state == StateStarting {
		s.Stop(model.ReasonFailedToStart)
	} else {
		s.Stop(model.ReasonPlaybackError)
	}
}

// ackTimeout fires when no splash client acknowledged playback start within
// the policy window. The entry is treated as failed; no retry.
func (s *Supervisor) ackTimeout(gen int) {
	s.mu.Lock()
	if s.procGen != gen || s.state != StateStarting {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	logger.Warn("no start acknowledgment from splash client",
		logger.Duration("timeout", s.policy.StartTimeout))
	s.Stop(model.ReasonFailedToStart)
}

// OnSongStarted records a splash client's playback-start acknowledgment.
// The first ack wins; duplicates from additional displays are ignored.
func (s *Supervisor) OnSongStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStarting {
		logger.Debug("ignoring duplicate or stale start acknowledgment",
			logger.String("state", s.state.String()))
		return
	}
	s.state = StatePlaying
	s.startedAt = time.Now()
	logger.Info("playback confirmed", logger.String("title", s.current.Title))
}

// OnSongEnded records a splash client's end-of-song report. The first
// report wins; Stop is a no-op once idle.
func (s *Supervisor) OnSongEnded(reason model.EndReason) {
	s.Stop(reason)
}

// Pause signals the rendering clients to pause. No-op outside PLAYING.
func (s *Supervisor) Pause() {
	s.mu.Lock()
	if s.state != StatePlaying {
		logger.Warn("pause ignored", logger.String("state", s.state.String()))
		s.mu.Unlock()
		return
	}
	s.state = StatePaused
	s.pausedAt = time.Now()
	s.mu.Unlock()

	s.notifier.PushPause()
}

// Resume signals the rendering clients to resume. No-op outside PAUSED.
func (s *Supervisor) Resume() {
	s.mu.Lock()
	if s.state != StatePaused {
		logger.Warn("resume ignored", logger.String("state", s.state.String()))
		s.mu.Unlock()
		return
	}
	s.state = StatePlaying
	s.pausedTotal += time.Since(s.pausedAt)
	s.mu.Unlock()

	s.notifier.PushPlay()
}

// Restart re-runs the pipeline for the current entry from the beginning.
// Valid from PLAYING or PAUSED.
func (s *Supervisor) Restart() error {
	return s.restart(nil)
}

// Transpose restarts the pipeline with a new pitch offset. A key change is
// a stop-and-retranscode, not live pitch bending.
func (s *Supervisor) Transpose(semitones int) error {
	return s.restart(&semitones)
}

func (s *Supervisor) restart(semitones *int) error {
	s.mu.Lock()
	if s.state != StatePlaying && s.state != StatePaused {
		logger.Warn("restart ignored", logger.String("state", s.state.String()))
		s.mu.Unlock()
		return nil
	}
	entry := *s.current
	if semitones != nil {
		entry.Transpose = *semitones
	}
	var played float64
	switch s.state {
	case StatePlaying:
		played = (time.Since(s.startedAt) - s.pausedTotal).Seconds()
	case StatePaused:
		played = (s.pausedAt.Sub(s.startedAt) - s.pausedTotal).Seconds()
	}
	s.stopping = true
	proc := s.detachLocked()
	// Free the slot so launch can commit the relaunch.
	s.state = StateIdle
	s.current = nil
	s.duration = 0
	s.mu.Unlock()

	if proc != nil {
		s.terminate(proc)
	}

	if err := s.launch(entry); err != nil {
		logger.Error("relaunch failed", logger.ErrorField(err),
			logger.String("title", entry.Title))
		s.emit(StopEvent{Entry: entry, Reason: model.ReasonFailedToStart, Played: played})
		return err
	}

	s.mu.Lock()
	s.command = model.CommandRestart
	s.mu.Unlock()
	s.notifier.PushRestart()
	return nil
}

// Stop terminates the subprocess and hands the finished entry back to the
// controller. Valid from any non-idle state; duplicate calls are no-ops.
func (s *Supervisor) Stop(reason model.EndReason) {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateEnding {
		s.mu.Unlock()
		return
	}
	entry := *s.current
	var played float64
	switch s.state {
	case StatePlaying:
		played = (time.Since(s.startedAt) - s.pausedTotal).Seconds()
	case StatePaused:
		played = (s.pausedAt.Sub(s.startedAt) - s.pausedTotal).Seconds()
	}
	s.state = StateEnding
	s.stopping = true
	proc := s.detachLocked()
	s.mu.Unlock()

	if proc != nil {
		s.terminate(proc)
	}

	s.mu.Lock()
	s.state = StateIdle
	s.current = nil
	s.duration = 0
	s.mu.Unlock()

	logger.Info("playback stopped",
		logger.String("title", entry.Title),
		logger.String("reason", string(reason)))

	s.emit(StopEvent{Entry: entry, Reason: reason, Played: played})
}

// emit hands a finished entry to the controller without ever blocking the
// caller, which may be a splash read pump or a timer goroutine.
func (s *Supervisor) emit(ev StopEvent) {
	select {
	case s.events <- ev:
	default:
		logger.Error("stop event dropped, controller not draining events")
	}
}

// detachLocked unhooks the active process from the supervisor so stale
// monitors and timers cannot act on it. Caller holds s.mu.
func (s *Supervisor) detachLocked() Process {
	proc := s.proc
	s.proc = nil
	s.procGen++
	return proc
}

// terminate stops a process, escalating SIGTERM to a hard kill after the
// grace window so a hung ffmpeg cannot linger and burn CPU.
func (s *Supervisor) terminate(proc Process) {
	select {
	case <-proc.Done():
		return
	default:
	}

	if err := proc.Terminate(); err != nil {
		logger.Debug("terminate signal failed", logger.ErrorField(err))
	}
	select {
	case <-proc.Done():
	case <-time.After(s.grace):
		logger.Warn("transcode process ignored SIGTERM, killing")
		if err := proc.Kill(); err != nil {
			logger.Error("failed to kill transcode process", logger.ErrorField(err))
			return
		}
		<-proc.Done()
	}
}

// SetVolume sets playback volume, clamped to [0,1]. Clients nudge volume
// blindly, so out-of-range values clamp rather than error.
func (s *Supervisor) SetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()

	s.notifier.PushVolume(v)
}

// NudgeVolume adjusts volume by delta, clamped.
func (s *Supervisor) NudgeVolume(delta float64) {
	s.mu.Lock()
	v := s.volume
	s.mu.Unlock()
	s.SetVolume(v + delta)
}

// Volume returns the current volume.
func (s *Supervisor) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// ShowMessage queues a one-shot message command for splash clients.
func (s *Supervisor) ShowMessage(message string) {
	s.mu.Lock()
	s.command = model.CommandMessage
	s.message = message
	s.mu.Unlock()
}

// ClearCommand resets the one-shot splash command after it has been
// broadcast.
func (s *Supervisor) ClearCommand() {
	s.mu.Lock()
	s.command = model.CommandNone
	s.message = ""
	s.mu.Unlock()
}

// Snapshot assembles the canonical now-playing state. upNext may be nil.
func (s *Supervisor) Snapshot(upNext *model.QueueEntry) model.NowPlayingState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := model.NowPlayingState{
		UpNext:   upNext,
		IsPaused: s.state == StatePaused,
		Volume:   s.volume,
		Duration: s.duration,
		Command:  s.command,
		Message:  s.message,
	}
	if s.current != nil {
		entry := *s.current
		st.Current = &entry
	}
	switch s.state {
	case StatePlaying:
		st.Position = (time.Since(s.startedAt) - s.pausedTotal).Seconds()
	case StatePaused:
		st.Position = (s.pausedAt.Sub(s.startedAt) - s.pausedTotal).Seconds()
	}
	return st.WithRevision()
}
