/*
Copyright 2011 Google Inc.

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

// Package filestore implements content-addressed blob storage with
// staging, finalization, path derivation and hash verification, over
// three on-disk trees: stage (in-progress uploads), files (finalized
// blobs) and genfiles (derived artifacts).
package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"sunwet.dev/sunwet/pkg/fhash"
)

// ErrHashMismatch is returned by upload.Machine.Finish when the staged
// file's recomputed hash doesn't match the claimed hash.
var ErrHashMismatch = fmt.Errorf("filestore: hash mismatch")

// ErrShortHash is returned by the path-derivation functions when a hash
// digest is too short to shard safely.
var ErrShortHash = fmt.Errorf("filestore: hash digest shorter than 4 hex chars")

// Store roots the three on-disk trees:
//
//	<persistent>/files/<algo>/<xx>/<yy>/<hex>
//	<persistent>/stage/<algo>_<hex>
//	<cache>/genfiles/<algo>/<xx>/<yy>/<hex>.<sanitized-gentype>
//
// Store never deletes anything; deletion is the GC worker's job.
type Store struct {
	persistentRoot string // contains files/ and stage/
	cacheRoot      string // contains genfiles/
}

// New returns a Store rooted at the given persistent and cache
// directories, creating the files/, stage/ and genfiles/ subtrees if
// they don't already exist.
func New(persistentRoot, cacheRoot string) (*Store, error) {
	s := &Store{persistentRoot: persistentRoot, cacheRoot: cacheRoot}
	for _, dir := range []string{s.filesRoot(), s.stageRoot(), s.genfilesRoot(), s.tempRoot()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("filestore: creating %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *Store) filesRoot() string    { return filepath.Join(s.persistentRoot, "files") }
func (s *Store) stageRoot() string    { return filepath.Join(s.persistentRoot, "stage") }
func (s *Store) genfilesRoot() string { return filepath.Join(s.cacheRoot, "genfiles") }
func (s *Store) tempRoot() string     { return filepath.Join(s.cacheRoot, "temp") }

func shardDigest(h fhash.Hash) (a, b string, err error) {
	d := h.Digest()
	if len(d) < 4 {
		return "", "", ErrShortHash
	}
	return d[0:2], d[2:4], nil
}

// FilePath returns the on-disk path for the finalized blob of h.
func (s *Store) FilePath(h fhash.Hash) (string, error) {
	a, b, err := shardDigest(h)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.filesRoot(), string(h.Algo()), a, b, h.Digest()), nil
}

// StagePath returns the on-disk path for the in-progress upload of h.
func (s *Store) StagePath(h fhash.Hash) (string, error) {
	if len(h.Digest()) < 4 {
		return "", ErrShortHash
	}
	return filepath.Join(s.stageRoot(), fmt.Sprintf("%s_%s", h.Algo(), h.Digest())), nil
}

var gentypeSanitizer = regexp.MustCompile(`[^A-Za-z0-9]+`)

// SanitizeGentype strips every non-alphanumeric rune from a gentype
// string for safe use as a filesystem path component.
func SanitizeGentype(gentype string) string {
	return gentypeSanitizer.ReplaceAllString(gentype, "")
}

// GenfilePath returns the on-disk path for a generated artifact of h
// with the given gentype (e.g. "transcode:video/webm", "vtt:en").
func (s *Store) GenfilePath(h fhash.Hash, gentype string) (string, error) {
	a, b, err := shardDigest(h)
	if err != nil {
		return "", err
	}
	sanitized := SanitizeGentype(gentype)
	if sanitized == "" {
		return "", fmt.Errorf("filestore: gentype %q sanitizes to empty string", gentype)
	}
	return filepath.Join(s.genfilesRoot(), string(h.Algo()), a, b, h.Digest()+"."+sanitized), nil
}

// FilesRoot, StageRoot and GenfilesRoot are exposed for the GC worker's
// directory walks; TempRoot is exposed for the generator pipeline's
// transient work files.
func (s *Store) FilesRoot() string    { return s.filesRoot() }
func (s *Store) StageRoot() string    { return s.stageRoot() }
func (s *Store) GenfilesRoot() string { return s.genfilesRoot() }
func (s *Store) TempRoot() string     { return s.tempRoot() }

// HashStream streams r through the canonical hasher, implementing
// C1's hash_stream operation.
func HashStream(r io.Reader) (fhash.Hash, int64, error) {
	return fhash.HashStream(r)
}

// Open opens the finalized blob for h for reading, along with its size.
func (s *Store) Open(h fhash.Hash) (*os.File, int64, error) {
	path, err := s.FilePath(h)
	if err != nil {
		return nil, 0, err
	}
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, 0, os.ErrNotExist
	} else if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Exists reports whether h's blob is present in the file store.
func (s *Store) Exists(h fhash.Hash) (bool, int64, error) {
	path, err := s.FilePath(h)
	if err != nil {
		return false, 0, err
	}
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, 0, nil
	} else if err != nil {
		return false, 0, err
	}
	return true, fi.Size(), nil
}

// OpenGenerated opens a generated artifact for reading.
func (s *Store) OpenGenerated(h fhash.Hash, gentype string) (*os.File, int64, error) {
	path, err := s.GenfilePath(h, gentype)
	if err != nil {
		return nil, 0, err
	}
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, 0, os.ErrNotExist
	} else if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// FinalizeRename moves src to dst, falling back to copy+unlink when they
// live on different filesystems (os.Rename returns syscall.EXDEV). It
// is used by pkg/upload to promote a verified stage file into the file
// store, and creates dst's parent directories as needed.
func FinalizeRename(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := dst + ".tmp-copy"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

func isCrossDevice(err error) bool {
	return strings.Contains(err.Error(), "cross-device") || strings.Contains(err.Error(), "invalid cross-device link")
}
