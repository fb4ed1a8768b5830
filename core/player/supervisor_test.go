package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"KaraFM/config"
	"KaraFM/model"
)

type fakeProcess struct {
	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) Terminate() error       { p.exit(nil); return nil }
func (p *fakeProcess) Kill() error            { p.exit(nil); return nil }
func (p *fakeProcess) Done() <-chan struct{}  { return p.done }
func (p *fakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

type fakeTranscoder struct {
	mu       sync.Mutex
	procs    []*fakeProcess
	startErr error
}

func (t *fakeTranscoder) Start(ctx context.Context, spec TranscodeSpec) (Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startErr != nil {
		return nil, t.startErr
	}
	p := newFakeProcess()
	t.procs = append(t.procs, p)
	return p, nil
}

func (t *fakeTranscoder) Duration(inputPath string) (float64, error) {
	return 180, nil
}

func (t *fakeTranscoder) starts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

func (t *fakeTranscoder) proc(i int) *fakeProcess {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.procs[i]
}

type recordingNotifier struct {
	mu       sync.Mutex
	plays    int
	pauses   int
	restarts int
	skips    []model.EndReason
	volumes  []float64
}

func (n *recordingNotifier) PushPlay() {
	n.mu.Lock()
	n.plays++
	n.mu.Unlock()
}

func (n *recordingNotifier) PushPause() {
	n.mu.Lock()
	n.pauses++
	n.mu.Unlock()
}

func (n *recordingNotifier) PushSkip(reason model.EndReason) {
	n.mu.Lock()
	n.skips = append(n.skips, reason)
	n.mu.Unlock()
}

func (n *recordingNotifier) PushRestart() {
	n.mu.Lock()
	n.restarts++
	n.mu.Unlock()
}

func (n *recordingNotifier) PushVolume(v float64) {
	n.mu.Lock()
	n.volumes = append(n.volumes, v)
	n.mu.Unlock()
}

func newTestSupervisor(t *testing.T, startTimeout time.Duration) (*Supervisor, *fakeTranscoder, *recordingNotifier) {
	t.Helper()
	tr := &fakeTranscoder{}
	n := &recordingNotifier{}
	policy := config.Policy{
		BufferSeconds: 10,
		StartTimeout:  startTimeout,
	}
	sup := NewSupervisor(tr, n, t.TempDir(), policy, "192k")
	sup.grace = 50 * time.Millisecond
	return sup, tr, n
}

func waitEvent(t *testing.T, sup *Supervisor) StopEvent {
	t.Helper()
	select {
	case ev := <-sup.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stop event")
		return StopEvent{}
	}
}

func entry(title string) model.QueueEntry {
	return model.QueueEntry{ID: title, FilePath: "/songs/" + title + ".mp4", Title: title, Singer: "alice"}
}

func TestStartAckTransitions(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, time.Hour)

	if err := sup.Start(entry("a")); err != nil {
		t.Fatal(err)
	}
	if sup.State() != StateStarting {
		t.Fatalf("state = %v, want starting", sup.State())
	}

	sup.OnSongStarted()
	if sup.State() != StatePlaying {
		t.Fatalf("state = %v, want playing", sup.State())
	}

	// a second display acking again must not disturb playback
	sup.OnSongStarted()
	if sup.State() != StatePlaying {
		t.Errorf("duplicate ack changed state to %v", sup.State())
	}
}

func TestStartTimeoutFailsToStart(t *testing.T) {
	sup, tr, _ := newTestSupervisor(t, 30*time.Millisecond)

	if err := sup.Start(entry("a")); err != nil {
		t.Fatal(err)
	}

	ev := waitEvent(t, sup)
	if ev.Reason != model.ReasonFailedToStart {
		t.Errorf("reason = %q, want %q", ev.Reason, model.ReasonFailedToStart)
	}
	if sup.State() != StateIdle {
		t.Errorf("state after timeout = %v, want idle", sup.State())
	}
	select {
	case <-tr.proc(0).Done():
	default:
		t.Errorf("process not terminated after start timeout")
	}
}

func TestProcessDiesWhilePlaying(t *testing.T) {
	sup, tr, _ := newTestSupervisor(t, time.Hour)

	sup.Start(entry("a"))
	sup.OnSongStarted()
	tr.proc(0).exit(errors.New("boom"))

	ev := waitEvent(t, sup)
	if ev.Reason != model.ReasonPlaybackError {
		t.Errorf("reason = %q, want %q", ev.Reason, model.ReasonPlaybackError)
	}
}

func TestProcessDiesBeforeAck(t *testing.T) {
	sup, tr, _ := newTestSupervisor(t, time.Hour)

	sup.Start(entry("a"))
	tr.proc(0).exit(errors.New("bad input"))

	ev := waitEvent(t, sup)
	if ev.Reason != model.ReasonFailedToStart {
		t.Errorf("reason = %q, want %q", ev.Reason, model.ReasonFailedToStart)
	}
}

func TestCleanProcessExitKeepsPlaying(t *testing.T) {
	sup, tr, _ := newTestSupervisor(t, time.Hour)

	sup.Start(entry("a"))
	sup.OnSongStarted()
	// transcode finishing ahead of playback is normal
	tr.proc(0).exit(nil)

	select {
	case ev := <-sup.Events():
		t.Fatalf("unexpected stop event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
	if sup.State() != StatePlaying {
		t.Errorf("state = %v, want playing", sup.State())
	}
}

func TestEndReportStops(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, time.Hour)

	sup.Start(entry("a"))
	sup.OnSongStarted()
	sup.OnSongEnded(model.ReasonComplete)

	ev := waitEvent(t, sup)
	if ev.Reason != model.ReasonComplete {
		t.Errorf("reason = %q", ev.Reason)
	}
	if ev.Entry.Title != "a" {
		t.Errorf("entry = %+v", ev.Entry)
	}
	if sup.State() != StateIdle {
		t.Errorf("state = %v, want idle", sup.State())
	}

	// the second report of the same song must be swallowed
	sup.OnSongEnded(model.ReasonSkipped)
	select {
	case ev := <-sup.Events():
		t.Fatalf("duplicate end produced event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPauseResume(t *testing.T) {
	sup, _, n := newTestSupervisor(t, time.Hour)

	// pause before anything plays is ignored
	sup.Pause()
	if sup.State() != StateIdle {
		t.Fatalf("pause while idle changed state to %v", sup.State())
	}

	sup.Start(entry("a"))
	sup.OnSongStarted()

	sup.Pause()
	if sup.State() != StatePaused {
		t.Fatalf("state = %v, want paused", sup.State())
	}
	// double pause is a no-op
	sup.Pause()

	sup.Resume()
	if sup.State() != StatePlaying {
		t.Fatalf("state = %v, want playing", sup.State())
	}
	// resume while already playing is a no-op
	sup.Resume()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pauses != 1 || n.plays != 1 {
		t.Errorf("notifier saw %d pauses and %d plays, want 1 and 1", n.pauses, n.plays)
	}
}

func TestVolumeClampNeverErrors(t *testing.T) {
	sup, _, n := newTestSupervisor(t, time.Hour)

	sup.SetVolume(1.7)
	if v := sup.Volume(); v != 1 {
		t.Errorf("volume = %v, want 1", v)
	}
	sup.SetVolume(-0.3)
	if v := sup.Volume(); v != 0 {
		t.Errorf("volume = %v, want 0", v)
	}

	sup.SetVolume(0.5)
	sup.NudgeVolume(0.1)
	if v := sup.Volume(); v < 0.59 || v > 0.61 {
		t.Errorf("volume after nudge = %v, want 0.6", v)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.volumes) != 4 {
		t.Errorf("notifier saw %d volume pushes, want 4", len(n.volumes))
	}
}

func TestRestartRelaunchesPipeline(t *testing.T) {
	sup, tr, n := newTestSupervisor(t, time.Hour)

	sup.Start(entry("a"))
	sup.OnSongStarted()

	if err := sup.Restart(); err != nil {
		t.Fatal(err)
	}
	if tr.starts() != 2 {
		t.Fatalf("transcoder started %d times, want 2", tr.starts())
	}
	select {
	case <-tr.proc(0).Done():
	default:
		t.Errorf("old process still running after restart")
	}
	if sup.State() != StateStarting {
		t.Errorf("state = %v, want starting", sup.State())
	}

	n.mu.Lock()
	restarts := n.restarts
	n.mu.Unlock()
	if restarts != 1 {
		t.Errorf("notifier saw %d restarts, want 1", restarts)
	}
}

func TestTransposeRestartsWithNewPitch(t *testing.T) {
	sup, tr, _ := newTestSupervisor(t, time.Hour)

	sup.Start(entry("a"))
	sup.OnSongStarted()

	if err := sup.Transpose(2); err != nil {
		t.Fatal(err)
	}
	if tr.starts() != 2 {
		t.Fatalf("transcoder started %d times, want 2", tr.starts())
	}

	sup.OnSongStarted()
	st := sup.Snapshot(nil)
	if st.Current == nil || st.Current.Transpose != 2 {
		t.Errorf("current entry transpose not updated: %+v", st.Current)
	}

	// transpose while idle is ignored
	sup.Stop(model.ReasonSkipped)
	waitEvent(t, sup)
	if err := sup.Transpose(3); err != nil {
		t.Errorf("transpose while idle: %v", err)
	}
	if tr.starts() != 2 {
		t.Errorf("transpose while idle launched a process")
	}
}

// stallTranscoder parks Duration until gate closes, standing in for a slow
// ffprobe run against a large or damaged file.
type stallTranscoder struct {
	fakeTranscoder
	inDuration chan struct{}
	gate       chan struct{}
	durOnce    sync.Once
}

func (t *stallTranscoder) Duration(inputPath string) (float64, error) {
	t.durOnce.Do(func() { close(t.inDuration) })
	<-t.gate
	return 180, nil
}

func TestStateReadsStayResponsiveDuringLaunch(t *testing.T) {
	tr := &stallTranscoder{
		inDuration: make(chan struct{}),
		gate:       make(chan struct{}),
	}
	policy := config.Policy{BufferSeconds: 10, StartTimeout: time.Hour}
	sup := NewSupervisor(tr, &recordingNotifier{}, t.TempDir(), policy, "192k")
	sup.grace = 50 * time.Millisecond

	started := make(chan error, 1)
	go func() { started <- sup.Start(entry("a")) }()

	select {
	case <-tr.inDuration:
	case <-time.After(2 * time.Second):
		t.Fatal("duration lookup never ran")
	}

	// With the duration lookup still in flight, reads and volume changes
	// must not queue up behind it.
	reads := make(chan struct{})
	go func() {
		if sup.State() != StateIdle {
			t.Errorf("state during launch = %v, want idle", sup.State())
		}
		if st := sup.Snapshot(nil); st.Current != nil {
			t.Errorf("snapshot during launch carries an entry: %+v", st.Current)
		}
		sup.SetVolume(0.5)
		close(reads)
	}()
	select {
	case <-reads:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("state reads blocked behind the duration lookup")
	}

	close(tr.gate)
	if err := <-started; err != nil {
		t.Fatal(err)
	}
	if sup.State() != StateStarting {
		t.Errorf("state after launch = %v, want starting", sup.State())
	}
}

func TestRestartLaunchFailureEndsSong(t *testing.T) {
	sup, tr, _ := newTestSupervisor(t, time.Hour)

	sup.Start(entry("a"))
	sup.OnSongStarted()

	tr.mu.Lock()
	tr.startErr = errors.New("pipeline gone")
	tr.mu.Unlock()

	if err := sup.Restart(); err == nil {
		t.Fatal("restart with a dead pipeline reported success")
	}
	ev := waitEvent(t, sup)
	if ev.Reason != model.ReasonFailedToStart {
		t.Errorf("reason = %q, want %q", ev.Reason, model.ReasonFailedToStart)
	}
	if ev.Entry.Title != "a" {
		t.Errorf("entry = %+v", ev.Entry)
	}
	if sup.State() != StateIdle {
		t.Errorf("state = %v, want idle", sup.State())
	}
}

func TestStartWhileBusyForcesReset(t *testing.T) {
	sup, tr, _ := newTestSupervisor(t, time.Hour)

	sup.Start(entry("a"))
	sup.OnSongStarted()

	err := sup.Start(entry("b"))
	if !errors.Is(err, ErrNotIdle) {
		t.Fatalf("err = %v, want ErrNotIdle", err)
	}
	select {
	case <-tr.proc(0).Done():
	default:
		t.Errorf("stale process not terminated")
	}
	if sup.State() != StateIdle {
		t.Errorf("state after forced reset = %v, want idle", sup.State())
	}

	// the slot is free again
	if err := sup.Start(entry("b")); err != nil {
		t.Fatalf("start after reset: %v", err)
	}
}

func TestSnapshotCarriesPlaybackSlice(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, time.Hour)

	st := sup.Snapshot(nil)
	if st.Current != nil || st.IsPaused {
		t.Errorf("idle snapshot = %+v", st)
	}
	if st.Revision == "" {
		t.Errorf("snapshot missing revision")
	}

	sup.Start(entry("a"))
	sup.OnSongStarted()
	up := entry("b")
	st = sup.Snapshot(&up)

	if st.Current == nil || st.Current.Title != "a" {
		t.Errorf("current = %+v", st.Current)
	}
	if st.UpNext == nil || st.UpNext.Title != "b" {
		t.Errorf("upNext = %+v", st.UpNext)
	}
	if st.Duration != 180 {
		t.Errorf("duration = %v, want probed 180", st.Duration)
	}
}
