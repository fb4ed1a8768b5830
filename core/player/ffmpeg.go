package player

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"KaraFM/logger"
)

const (
	// StreamPlaylist is the file splash clients fetch in buffered mode.
	StreamPlaylist = "stream.m3u8"
	// StreamFile is the single output produced in full-transcode mode.
	StreamFile = "stream.mp4"
)

// TranscodeSpec describes one pipeline invocation.
type TranscodeSpec struct {
	InputPath     string
	OutputDir     string
	Transpose     int  // semitones, 0 = no pitch filter
	Normalize     bool // apply loudness normalization
	Full          bool // full transcode before serving vs. buffer-then-stream
	BufferSeconds int
	Bitrate       string
}

// OutputFile returns the file a client should fetch for this spec.
func (s TranscodeSpec) OutputFile() string {
	if s.Full {
		return filepath.Join(s.OutputDir, StreamFile)
	}
	return filepath.Join(s.OutputDir, StreamPlaylist)
}

// Process is a handle on a running transcode subprocess.
type Process interface {
	// Terminate asks the process to exit (SIGTERM).
	Terminate() error
	// Kill forcibly ends the process.
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err returns the exit error, valid after Done is closed.
	Err() error
}

// Transcoder starts transcode subprocesses and probes media files.
type Transcoder interface {
	Start(ctx context.Context, spec TranscodeSpec) (Process, error)
	Duration(inputPath string) (float64, error)
}

// FFmpegTranscoder implements Transcoder using the ffmpeg/ffprobe binaries.
type FFmpegTranscoder struct {
	ffmpegPath string
}

// NewFFmpegTranscoder creates a new FFmpegTranscoder.
func NewFFmpegTranscoder(ffmpegPath string) *FFmpegTranscoder {
	return &FFmpegTranscoder{ffmpegPath: ffmpegPath}
}

// BuildArgs assembles the ffmpeg argument list for a spec. Pitch transpose
// is a rubberband filter; a key change therefore restarts the pipeline, it
// is not live pitch bending.
func BuildArgs(spec TranscodeSpec) []string {
	args := []string{"-y", "-i", spec.InputPath}

	var filters []string
	if spec.Transpose != 0 {
		ratio := math.Pow(2, float64(spec.Transpose)/12.0)
		filters = append(filters, fmt.Sprintf("rubberband=pitch=%.6f", ratio))
	}
	if spec.Normalize {
		filters = append(filters, "loudnorm")
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}

	args = append(args, "-c:v", "copy", "-c:a", "aac", "-b:a", spec.Bitrate)

	if spec.Full {
		args = append(args,
			"-movflags", "+faststart",
			"-f", "mp4",
			filepath.Join(spec.OutputDir, StreamFile),
		)
		return args
	}

	args = append(args,
		"-hls_time", strconv.Itoa(spec.BufferSeconds),
		"-hls_playlist_type", "event",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(spec.OutputDir, "segment%05d.ts"),
		"-f", "hls",
		filepath.Join(spec.OutputDir, StreamPlaylist),
	)
	return args
}

// Start launches ffmpeg writing into spec.OutputDir.
func (t *FFmpegTranscoder) Start(ctx context.Context, spec TranscodeSpec) (Process, error) {
	if err := os.MkdirAll(spec.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stream directory %s: %w", spec.OutputDir, err)
	}

	args := BuildArgs(spec)
	logger.Debug("starting ffmpeg",
		logger.String("input", spec.InputPath),
		logger.Int("transpose", spec.Transpose),
		logger.Bool("full", spec.Full))

	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed to start for %s: %w", spec.InputPath, err)
	}

	p := &ffmpegProcess{cmd: cmd, stderr: &stderr, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration uses ffprobe to get the duration of a media file in seconds.
func (t *FFmpegTranscoder) Duration(inputPath string) (float64, error) {
	ffprobePath := strings.Replace(t.ffmpegPath, "ffmpeg", "ffprobe", 1)

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		inputPath,
	}

	cmd := exec.Command(ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", inputPath, err, stderr.String())
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w", inputPath, err)
	}

	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output for %s", inputPath)
	}

	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q for %s: %w", probeData.Format.Duration, inputPath, err)
	}

	return duration, nil
}

type ffmpegProcess struct {
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	done   chan struct{}
	err    error
}

func (p *ffmpegProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *ffmpegProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *ffmpegProcess) Done() <-chan struct{} {
	return p.done
}

func (p *ffmpegProcess) Err() error {
	if p.err != nil && p.stderr.Len() > 0 {
		return fmt.Errorf("%w: %s", p.err, lastLine(p.stderr.String()))
	}
	return p.err
}

// lastLine returns the final non-empty stderr line, usually the actual
// ffmpeg error message.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
