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
	"context"
	"os"
	"strings"

	"sunwet.dev/sunwet/pkg/fhash"
)

// tempOutput is one derivation's not-yet-finalized output: a file
// living under the store's temp area, moved into place by
// filestore.FinalizeRename on success and removed on any failure path.
type tempOutput struct {
	path string
}

func (o tempOutput) cleanup() {
	if o.path != "" {
		os.Remove(o.path)
	}
}

// planDerivations decides which single-artifact gentypes a mimetype
// warrants: webm transcode for non-webm video, aac
// transcode for non-aac/mp3 audio, and a thumbnail for images (the
// x/image-backed extension this implementation adds for image-typed
// file nodes, giving the client a cover/thumbnail to render an
// Audio{cover} or Image{file} media descriptor without shipping the
// original asset). Subtitle extraction is handled separately
// (deriveSubtitles) because one video can produce several vtt gentypes,
// one per embedded language track, discovered only at derivation time.
func planDerivations(mimetype string) []derivation {
	var out []derivation
	switch {
	case strings.HasPrefix(mimetype, "video/"):
		if mimetype != "video/webm" {
			out = append(out, webmDerivation{})
		}
	case strings.HasPrefix(mimetype, "audio/"):
		if mimetype != "audio/aac" && mimetype != "audio/mpeg" {
			out = append(out, aacDerivation{})
		}
	case strings.HasPrefix(mimetype, "image/"):
		out = append(out, thumbnailDerivation{})
	}
	return out
}

type webmDerivation struct{}

func (webmDerivation) gentype(string) string { return "transcode:video/webm" }

func (webmDerivation) run(ctx context.Context, p *Pipeline, h fhash.Hash, mimetype string) (tempOutput, string, error) {
	src, cleanup, err := p.openSource(h)
	if err != nil {
		return tempOutput{}, "", err
	}
	defer cleanup()

	out, err := p.tempPath(h, "webm")
	if err != nil {
		return tempOutput{}, "", err
	}
	if err := p.enc.TranscodeWebm(ctx, src, out, p.cfg.SubprocessTimeout); err != nil {
		os.Remove(out)
		return tempOutput{}, "", err
	}
	return tempOutput{path: out}, "video/webm", nil
}

// subtitleDerivation derives one language's vtt track; lang is fixed by
// deriveSubtitles before this runs through the same deriveOnce guard
// every other derivation uses.
type subtitleDerivation struct {
	lang string
}

func (d subtitleDerivation) gentype(string) string { return fmtGentype("vtt", d.lang) }

func (d subtitleDerivation) run(ctx context.Context, p *Pipeline, h fhash.Hash, mimetype string) (tempOutput, string, error) {
	src, cleanup, err := p.openSource(h)
	if err != nil {
		return tempOutput{}, "", err
	}
	defer cleanup()

	out, err := p.tempPath(h, "vtt")
	if err != nil {
		return tempOutput{}, "", err
	}
	if err := p.enc.ExtractSubtitle(ctx, src, d.lang, out, p.cfg.SubprocessTimeout); err != nil {
		os.Remove(out)
		return tempOutput{}, "", err
	}
	return tempOutput{path: out}, "text/vtt", nil
}

type aacDerivation struct{}

func (aacDerivation) gentype(string) string { return "transcode:audio/aac" }

func (aacDerivation) run(ctx context.Context, p *Pipeline, h fhash.Hash, mimetype string) (tempOutput, string, error) {
	src, cleanup, err := p.openSource(h)
	if err != nil {
		return tempOutput{}, "", err
	}
	defer cleanup()

	out, err := p.tempPath(h, "aac")
	if err != nil {
		return tempOutput{}, "", err
	}
	if err := p.enc.TranscodeAAC(ctx, src, out, p.cfg.SubprocessTimeout); err != nil {
		os.Remove(out)
		return tempOutput{}, "", err
	}
	return tempOutput{path: out}, "audio/aac", nil
}

type thumbnailDerivation struct{}

func (thumbnailDerivation) gentype(string) string { return "thumbnail:image/jpeg" }

func (thumbnailDerivation) run(ctx context.Context, p *Pipeline, h fhash.Hash, mimetype string) (tempOutput, string, error) {
	src, cleanup, err := p.openSource(h)
	if err != nil {
		return tempOutput{}, "", err
	}
	defer cleanup()

	out, err := p.tempPath(h, "jpg")
	if err != nil {
		return tempOutput{}, "", err
	}
	if err := generateThumbnail(src, out); err != nil {
		os.Remove(out)
		return tempOutput{}, "", err
	}
	return tempOutput{path: out}, "image/jpeg", nil
}
