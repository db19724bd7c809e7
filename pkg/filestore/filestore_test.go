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

package filestore

import (
	"bytes"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sunwet.dev/sunwet/pkg/fhash"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func testHash(t *testing.T, data []byte) fhash.Hash {
	t.Helper()
	sum := sha256.Sum256(data)
	h, err := fhash.FromDigest(fhash.SHA256, sum[:])
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestPathSharding(t *testing.T) {
	s := testStore(t)
	h := testHash(t, []byte("shard me"))
	d := h.Digest()

	fp, err := s.FilePath(h)
	if err != nil {
		t.Fatalf("FilePath: %v", err)
	}
	want := filepath.Join("sha256", d[0:2], d[2:4], d)
	if !strings.HasSuffix(fp, want) {
		t.Errorf("FilePath = %q, want suffix %q", fp, want)
	}

	sp, err := s.StagePath(h)
	if err != nil {
		t.Fatalf("StagePath: %v", err)
	}
	if !strings.HasSuffix(sp, "sha256_"+d) {
		t.Errorf("StagePath = %q, want suffix sha256_%s", sp, d)
	}

	gp, err := s.GenfilePath(h, "transcode:video/webm")
	if err != nil {
		t.Fatalf("GenfilePath: %v", err)
	}
	if !strings.HasSuffix(gp, d+".transcodevideowebm") {
		t.Errorf("GenfilePath = %q, want a sanitized gentype suffix", gp)
	}
}

func TestSanitizeGentype(t *testing.T) {
	tests := []struct{ in, want string }{
		{"transcode:video/webm", "transcodevideowebm"},
		{"vtt:en", "vtten"},
		{"already09OK", "already09OK"},
		{"../../../etc/passwd", "etcpasswd"},
	}
	for _, tt := range tests {
		if got := SanitizeGentype(tt.in); got != tt.want {
			t.Errorf("SanitizeGentype(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGenfilePathRejectsEmptySanitized(t *testing.T) {
	s := testStore(t)
	h := testHash(t, []byte("x"))
	if _, err := s.GenfilePath(h, ":/:"); err == nil {
		t.Fatal("GenfilePath with a fully-stripped gentype succeeded, want error")
	}
}

func TestHashStream(t *testing.T) {
	data := []byte("stream me through the digester")
	h, n, err := HashStream(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HashStream: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("HashStream read %d bytes, want %d", n, len(data))
	}
	if want := testHash(t, data); h != want {
		t.Errorf("HashStream = %s, want %s", h, want)
	}
}

func TestFinalizeRenameCreatesParents(t *testing.T) {
	s := testStore(t)
	data := []byte("finalize me")
	h := testHash(t, data)

	src := filepath.Join(s.TempRoot(), "pending")
	if err := os.WriteFile(src, data, 0600); err != nil {
		t.Fatal(err)
	}
	dst, err := s.FilePath(h)
	if err != nil {
		t.Fatal(err)
	}
	if err := FinalizeRename(src, dst); err != nil {
		t.Fatalf("FinalizeRename: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source survived the rename")
	}

	f, size, err := s.Open(h)
	if err != nil {
		t.Fatalf("Open after finalize: %v", err)
	}
	defer f.Close()
	if size != int64(len(data)) {
		t.Errorf("Open size = %d, want %d", size, len(data))
	}
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("finalized bytes = %q, want %q", got, data)
	}

	exists, size, err := s.Exists(h)
	if err != nil || !exists || size != int64(len(data)) {
		t.Errorf("Exists = (%v, %d, %v), want (true, %d, nil)", exists, size, err, len(data))
	}
}

func TestOpenMissing(t *testing.T) {
	s := testStore(t)
	h := testHash(t, []byte("never stored"))
	if _, _, err := s.Open(h); err != os.ErrNotExist {
		t.Fatalf("Open of a missing blob: got %v, want os.ErrNotExist", err)
	}
	exists, _, err := s.Exists(h)
	if err != nil || exists {
		t.Fatalf("Exists of a missing blob = (%v, %v), want (false, nil)", exists, err)
	}
}
