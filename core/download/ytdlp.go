package download

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"KaraFM/logger"
)

// outputTemplate names downloads in the explicit triple-dash form the
// library parser recognizes.
const outputTemplate = "%(title)s---%(id)s.%(ext)s"

// NewYtdlpFetcher returns a Fetcher backed by the yt-dlp binary at path.
// Plain-text queries are resolved through a single-result search; URLs are
// fetched directly.
func NewYtdlpFetcher(path string) Fetcher {
	return func(ctx context.Context, query, destDir string) (string, error) {
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return "", fmt.Errorf("create download dir: %w", err)
		}

		target := query
		if !strings.HasPrefix(query, "http://") && !strings.HasPrefix(query, "https://") {
			target = "ytsearch1:" + query
		}

		args := []string{
			"--no-playlist",
			"-f", "bestvideo[height<=1080][ext!=webm]+bestaudio[ext!=webm]/best[ext!=webm]/best",
			"--merge-output-format", "mp4",
			"--no-simulate",
			"--print", "after_move:filepath",
			"-o", filepath.Join(destDir, outputTemplate),
			target,
		}

		cmd := exec.CommandContext(ctx, path, args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		logger.Debug("running yt-dlp", logger.String("target", target))
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("yt-dlp: %w: %s", err, lastLine(stderr.String()))
		}

		result := lastLine(stdout.String())
		if result == "" {
			return "", fmt.Errorf("yt-dlp produced no file for %q", query)
		}
		if _, err := os.Stat(result); err != nil {
			return "", fmt.Errorf("yt-dlp reported missing file: %w", err)
		}
		return result, nil
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
