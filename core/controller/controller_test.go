package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"KaraFM/config"
	"KaraFM/core/player"
	"KaraFM/core/queue"
	"KaraFM/core/splash"
	"KaraFM/model"
)

type fakeProcess struct {
	once sync.Once
	done chan struct{}
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) exit() {
	p.once.Do(func() { close(p.done) })
}

func (p *fakeProcess) Terminate() error      { p.exit(); return nil }
func (p *fakeProcess) Kill() error           { p.exit(); return nil }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return nil }

type fakeTranscoder struct {
	mu        sync.Mutex
	starts    int
	failFirst bool
}

func (t *fakeTranscoder) Start(ctx context.Context, spec player.TranscodeSpec) (player.Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts++
	if t.failFirst && t.starts == 1 {
		return nil, errors.New("no such file")
	}
	return newFakeProcess(), nil
}

func (t *fakeTranscoder) Duration(inputPath string) (float64, error) {
	return 120, nil
}

func (t *fakeTranscoder) startCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.starts
}

type fakeHistory struct {
	mu      sync.Mutex
	records []model.QueueEntry
}

func (h *fakeHistory) Record(entry model.QueueEntry, playedSeconds float64) error {
	h.mu.Lock()
	h.records = append(h.records, entry)
	h.mu.Unlock()
	return nil
}

func (h *fakeHistory) recorded() []model.QueueEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.QueueEntry, len(h.records))
	copy(out, h.records)
	return out
}

type harness struct {
	q       *queue.Manager
	sup     *player.Supervisor
	hub     *splash.Hub
	ctrl    *Controller
	tr      *fakeTranscoder
	history *fakeHistory
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, tr *fakeTranscoder) *harness {
	t.Helper()

	q := queue.NewManager(0, nil, nil)
	history := &fakeHistory{}

	var ctrl *Controller
	hub := splash.NewHub(func() model.NowPlayingState {
		return ctrl.Snapshot()
	})
	policy := config.Policy{BufferSeconds: 10, StartTimeout: time.Hour}
	sup := player.NewSupervisor(tr, hub, t.TempDir(), policy, "192k")
	ctrl = New(q, sup, hub, history)
	q.OnChange(ctrl.Kick)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run()
	go ctrl.Run(ctx)

	t.Cleanup(func() {
		cancel()
		hub.Stop()
	})

	return &harness{q: q, sup: sup, hub: hub, ctrl: ctrl, tr: tr, history: history, cancel: cancel}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEnqueueStartsPlaybackWhenIdle(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{})

	h.q.Enqueue(queue.NewEntry("/s/a.mp4", "A", "alice"), queue.Bottom)

	eventually(t, func() bool { return h.tr.startCount() == 1 }, "first entry never started")
	eventually(t, func() bool { return h.q.Len() == 0 }, "entry not popped from queue")
	if st := h.sup.State(); st != player.StateStarting {
		t.Errorf("supervisor state = %v, want starting", st)
	}
}

func TestCompleteAdvancesAndRecordsHistory(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{})

	h.q.Enqueue(queue.NewEntry("/s/a.mp4", "A", "alice"), queue.Bottom)
	h.q.Enqueue(queue.NewEntry("/s/b.mp4", "B", "bob"), queue.Bottom)

	eventually(t, func() bool { return h.tr.startCount() == 1 }, "song A never started")
	h.sup.OnSongStarted()
	h.sup.OnSongEnded(model.ReasonComplete)

	eventually(t, func() bool { return h.tr.startCount() == 2 }, "song B never started")
	eventually(t, func() bool { return len(h.history.recorded()) == 1 }, "completion not recorded")

	if got := h.history.recorded()[0].Title; got != "A" {
		t.Errorf("recorded title = %q, want A", got)
	}

	// a skipped song must not count toward history
	h.sup.OnSongStarted()
	h.sup.OnSongEnded(model.ReasonSkipped)
	eventually(t, func() bool { return h.sup.State() == player.StateIdle }, "song B never stopped")
	time.Sleep(50 * time.Millisecond)
	if len(h.history.recorded()) != 1 {
		t.Errorf("skip was recorded in history")
	}
}

func TestFailedStartAdvancesToNextEntry(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{failFirst: true})

	h.q.Enqueue(queue.NewEntry("/s/broken.mp4", "Broken", "alice"), queue.Bottom)
	h.q.Enqueue(queue.NewEntry("/s/good.mp4", "Good", "bob"), queue.Bottom)

	// the broken entry fails to launch and the controller moves on
	eventually(t, func() bool { return h.tr.startCount() == 2 }, "controller stuck on broken entry")
	eventually(t, func() bool { return h.sup.State() == player.StateStarting }, "good entry not starting")
	if h.q.Len() != 0 {
		t.Errorf("queue len = %d, want 0", h.q.Len())
	}
}

func TestKickStormStartsOneProcess(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{})

	for i := 0; i < 5; i++ {
		h.q.Enqueue(queue.NewEntry("/s/x.mp4", "X", "alice"), queue.Bottom)
	}
	for i := 0; i < 20; i++ {
		h.ctrl.Kick()
	}

	eventually(t, func() bool { return h.tr.startCount() == 1 }, "nothing started")
	// let any extra kicks drain
	time.Sleep(100 * time.Millisecond)
	if got := h.tr.startCount(); got != 1 {
		t.Errorf("kick storm started %d processes, want 1", got)
	}
	if got := h.q.Len(); got != 4 {
		t.Errorf("queue len = %d, want 4", got)
	}
}

func TestSkipWhileIdleIsANoOp(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{})

	if err := h.ctrl.Apply(model.Control{Kind: model.ControlSkip}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := h.tr.startCount(); got != 0 {
		t.Errorf("skip while idle started %d processes", got)
	}
}

func TestApplyVolume(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{})

	if err := h.ctrl.Apply(model.Control{Kind: model.ControlSetVolume, Volume: 2.5}); err != nil {
		t.Fatal(err)
	}
	if v := h.sup.Volume(); v != 1 {
		t.Errorf("volume = %v, want clamped 1", v)
	}

	h.ctrl.Apply(model.Control{Kind: model.ControlVolumeDown})
	if v := h.sup.Volume(); v < 0.89 || v > 0.91 {
		t.Errorf("volume = %v, want 0.9", v)
	}
}

func TestSnapshotIncludesUpNext(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{})

	h.q.Enqueue(queue.NewEntry("/s/a.mp4", "A", "alice"), queue.Bottom)
	h.q.Enqueue(queue.NewEntry("/s/b.mp4", "B", "bob"), queue.Bottom)

	eventually(t, func() bool { return h.tr.startCount() == 1 }, "song A never started")
	eventually(t, func() bool {
		st := h.ctrl.Snapshot()
		return st.Current != nil && st.Current.Title == "A" &&
			st.UpNext != nil && st.UpNext.Title == "B"
	}, "snapshot missing current or upNext")
}
