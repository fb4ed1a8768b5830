package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"KaraFM/core/library"
	"KaraFM/logger"
	"KaraFM/model"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned when cancelling an unknown or finished job.
var ErrJobNotFound = errors.New("download: job not found")

// Fetcher downloads one item into destDir and returns the resulting file
// path. Cancelling ctx must terminate the underlying fetch process.
type Fetcher func(ctx context.Context, query, destDir string) (string, error)

// Archiver mirrors completed downloads to long-term storage. Optional.
type Archiver interface {
	Archive(ctx context.Context, localPath string) error
}

// Enqueuer adds a downloaded song to the play queue.
type Enqueuer func(entry model.QueueEntry, top bool) error

// Coordinator runs fetch jobs concurrently under a configurable ceiling,
// each cancellable, and feeds results into the library and queue.
type Coordinator struct {
	fetch    Fetcher
	lib      *library.Index
	enqueue  Enqueuer
	notify   func(model.Notification)
	archiver Archiver

	tmpDir string
	sem    chan struct{}

	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	model.DownloadJob
	cancel context.CancelFunc
}

// NewCoordinator creates a coordinator. concurrency bounds simultaneous
// fetches (slow single-core hosts want 1-2); archiver may be nil.
func NewCoordinator(fetch Fetcher, lib *library.Index, enqueue Enqueuer, notify func(model.Notification), archiver Archiver, tmpDir string, concurrency int) *Coordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Coordinator{
		fetch:    fetch,
		lib:      lib,
		enqueue:  enqueue,
		notify:   notify,
		archiver: archiver,
		tmpDir:   tmpDir,
		sem:      make(chan struct{}, concurrency),
		jobs:     make(map[string]*job),
	}
}

// Request spawns a background download job and returns its id.
func (c *Coordinator) Request(query, singer string, enqueueAfter, top bool) string {
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		DownloadJob: model.DownloadJob{
			ID:           uuid.NewString(),
			Query:        query,
			Singer:       singer,
			State:        model.JobPending,
			EnqueueAfter: enqueueAfter,
			QueueToTop:   top,
			RequestedAt:  time.Now(),
		},
		cancel: cancel,
	}

	c.mu.Lock()
	c.jobs[j.ID] = j
	c.mu.Unlock()

	logger.Info("download requested",
		logger.String("job", j.ID),
		logger.String("query", query),
		logger.Bool("enqueue", enqueueAfter))

	go c.run(ctx, j)
	return j.ID
}

// Cancel terminates a pending or running job. The fetch process is killed
// and no partial file reaches the library.
func (c *Coordinator) Cancel(id string) error {
	c.mu.Lock()
	j, ok := c.jobs[id]
	c.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	j.cancel()
	return nil
}

// Jobs returns the jobs still in flight.
func (c *Coordinator) Jobs() []model.DownloadJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]model.DownloadJob, 0, len(c.jobs))
	for _, j := range c.jobs {
		result = append(result, j.DownloadJob)
	}
	return result
}

func (c *Coordinator) run(ctx context.Context, j *job) {
	defer func() {
		// Terminal jobs are reported and discarded.
		c.mu.Lock()
		delete(c.jobs, j.ID)
		c.mu.Unlock()
	}()

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		c.setState(j, model.JobCancelled)
		return
	}

	c.setState(j, model.JobRunning)

	// Each job downloads into its own scratch dir so cancellation cleanup
	// can never touch library files.
	scratch := filepath.Join(c.tmpDir, j.ID)
	defer os.RemoveAll(scratch)

	path, err := c.fetch(ctx, j.Query, scratch)
	if err != nil {
		if ctx.Err() != nil {
			c.setState(j, model.JobCancelled)
			logger.Info("download cancelled", logger.String("job", j.ID))
			return
		}
		c.fail(j, err)
		logger.Error("download failed",
			logger.ErrorField(err),
			logger.String("job", j.ID),
			logger.String("query", j.Query))
		c.notify(model.Notification{
			Message:  fmt.Sprintf("Download failed: %s", j.Query),
			Severity: model.SeverityError,
		})
		return
	}

	final, err := c.moveIntoLibrary(path)
	if err != nil {
		c.fail(j, err)
		logger.Error("could not move download into library", logger.ErrorField(err))
		c.notify(model.Notification{
			Message:  fmt.Sprintf("Download failed: %s", j.Query),
			Severity: model.SeverityError,
		})
		return
	}

	c.mu.Lock()
	j.State = model.JobSucceeded
	j.ResultPath = final
	c.mu.Unlock()
	c.lib.Add(final)

	title, _ := library.ParseFilename(final)
	logger.Info("download complete",
		logger.String("job", j.ID),
		logger.String("file", final))

	if c.archiver != nil {
		go func() {
			actx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := c.archiver.Archive(actx, final); err != nil {
				logger.Warn("archive upload failed", logger.ErrorField(err))
			}
		}()
	}

	if !j.EnqueueAfter {
		c.notify(model.Notification{
			Message:  fmt.Sprintf("%s added to the library", title),
			Severity: model.SeverityInfo,
		})
		return
	}

	entry := model.QueueEntry{
		ID:       uuid.NewString(),
		FilePath: final,
		Title:    title,
		Singer:   j.Singer,
		AddedAt:  time.Now(),
	}
	if err := c.enqueue(entry, j.QueueToTop); err != nil {
		// The file is in the library even though queueing failed; this is
		// recoverable and must not read as a download failure.
		logger.Warn("downloaded but failed to queue",
			logger.ErrorField(err),
			logger.String("title", title))
		c.notify(model.Notification{
			Message:  fmt.Sprintf("%s downloaded but could not be queued: %v", title, err),
			Severity: model.SeverityWarning,
		})
		return
	}

	c.notify(model.Notification{
		Message:  fmt.Sprintf("%s downloaded and queued for %s", title, j.Singer),
		Severity: model.SeverityInfo,
	})
}

func (c *Coordinator) setState(j *job, state model.JobState) {
	c.mu.Lock()
	j.State = state
	c.mu.Unlock()
}

func (c *Coordinator) fail(j *job, err error) {
	c.mu.Lock()
	j.State = model.JobFailed
	j.Error = err.Error()
	c.mu.Unlock()
}

// moveIntoLibrary relocates a finished download into the song directory.
// Name collisions are resolved by a deterministic " (n)" suffix on the
// title portion, preserving the parseable filename convention; existing
// files are never overwritten.
func (c *Coordinator) moveIntoLibrary(src string) (string, error) {
	base := filepath.Base(src)
	dest := filepath.Join(c.lib.Dir(), base)
	if _, err := os.Stat(dest); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		return dest, os.Rename(src, dest)
	}

	ext := filepath.Ext(base)
	title, id := library.ParseFilename(base)
	for n := 2; ; n++ {
		var candidate string
		if id != "" {
			candidate = library.FormatFilename(fmt.Sprintf("%s (%d)", title, n), id, ext)
		} else {
			candidate = fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(base, ext), n, ext)
		}
		dest = filepath.Join(c.lib.Dir(), candidate)
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			return dest, os.Rename(src, dest)
		}
	}
}
