/*
Copyright 2023 The Sunwet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package generate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// Encoder is the subprocess boundary every derivation calls through,
// mirroring pkg/video/thumbnail.Thumbnailer's "interface wraps an
// external command" shape so tests can substitute a fake without
// invoking a real ffmpeg binary.
type Encoder interface {
	TranscodeWebm(ctx context.Context, src, dst string, timeout time.Duration) error
	TranscodeAAC(ctx context.Context, src, dst string, timeout time.Duration) error
	ListSubtitleLanguages(ctx context.Context, src string, timeout time.Duration) ([]string, error)
	ExtractSubtitle(ctx context.Context, src, lang, dst string, timeout time.Duration) error
}

// DefaultEncoder shells out to ffmpeg/ffprobe, retrying any failed
// subprocess with exponential backoff (up to 3 attempts) before giving
// up and letting the caller log and move on.
type DefaultEncoder struct{}

var _ Encoder = DefaultEncoder{}

func (DefaultEncoder) TranscodeWebm(ctx context.Context, src, dst string, timeout time.Duration) error {
	// Two-pass VBR; pass 1 writes to /dev/null-equivalent
	// log files ffmpeg manages itself, pass 2 produces dst.
	return runWithRetry(ctx, timeout,
		[]string{"ffmpeg", "-y", "-i", src, "-pass", "1", "-an", "-f", "webm", "-c:v", "libvpx-vp9", "-b:v", "1M", "/dev/null"},
		[]string{"ffmpeg", "-y", "-i", src, "-pass", "2", "-c:v", "libvpx-vp9", "-b:v", "1M", "-c:a", "libopus", dst},
	)
}

func (DefaultEncoder) TranscodeAAC(ctx context.Context, src, dst string, timeout time.Duration) error {
	return runWithRetry(ctx, timeout,
		[]string{"ffmpeg", "-y", "-i", src, "-c:a", "aac", "-b:a", "192k", dst},
	)
}

func (DefaultEncoder) ListSubtitleLanguages(ctx context.Context, src string, timeout time.Duration) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "ffprobe",
		"-v", "error",
		"-select_streams", "s",
		"-show_entries", "stream_tags=language",
		"-of", "csv=p=0",
		src,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("generate: ffprobe subtitle probe: %w", err)
	}

	var langs []string
	seen := map[string]bool{}
	for _, line := range strings.Split(out.String(), "\n") {
		lang := strings.TrimSpace(line)
		if lang == "" || lang == "und" || seen[lang] {
			continue
		}
		seen[lang] = true
		langs = append(langs, lang)
	}
	return langs, nil
}

func (DefaultEncoder) ExtractSubtitle(ctx context.Context, src, lang, dst string, timeout time.Duration) error {
	return runWithRetry(ctx, timeout,
		[]string{"ffmpeg", "-y", "-i", src, "-map", "0:s:m:language:" + lang, dst},
	)
}

// runWithRetry runs each command in sequence (later commands depend on
// earlier ones, e.g. two-pass encoding), retrying an individual command
// with exponential backoff up to 3 attempts before failing the whole
// sequence.
func runWithRetry(ctx context.Context, timeout time.Duration, cmds ...[]string) error {
	for _, argv := range cmds {
		b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
		op := func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
			var stderr bytes.Buffer
			cmd.Stderr = &stderr
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("generate: %s: %w: %s", argv[0], err, stderr.String())
			}
			return nil
		}
		if err := backoff.Retry(op, b); err != nil {
			return err
		}
	}
	return nil
}
