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

package server

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/upload"
)

// handleFile serves POST (chunk upload), GET (download, raw or
// generated) and HEAD (existence/size) for /file/<hash>.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	hashStr := strings.TrimPrefix(r.URL.Path, "/file/")
	h, err := fhash.Parse(hashStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid hash: %w", err))
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handleFileChunk(w, r, h)
	case http.MethodHead:
		s.handleFileHead(w, r, h)
	case http.MethodGet:
		s.handleFileGet(w, r, h)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (s *Server) handleFileChunk(w http.ResponseWriter, r *http.Request, h fhash.Hash) {
	offsetHeader := r.Header.Get("x-file-offset")
	offset, err := strconv.ParseInt(offsetHeader, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid x-file-offset: %w", err))
		return
	}
	if _, ok, _ := s.db.GetMeta(r.Context(), h); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no meta declared for %s", h))
		return
	}
	if r.ContentLength < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("chunk requires a known Content-Length"))
		return
	}
	if err := s.upload.WriteChunk(h, offset, r.ContentLength, r.Body); err != nil {
		if err == upload.ErrOffsetOutOfRange {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFileHead(w http.ResponseWriter, r *http.Request, h fhash.Hash) {
	exists, size, err := s.store.Exists(h)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFileGet(w http.ResponseWriter, r *http.Request, h fhash.Hash) {
	var (
		f   *os.File
		err error
	)
	gentype := r.URL.Query().Get("generated")
	if gentype != "" {
		f, _, err = s.store.OpenGenerated(h, gentype)
	} else {
		f, _, err = s.store.Open(h)
	}
	if err == os.ErrNotExist {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer f.Close()

	if gentype != "" {
		if gen, ok, _ := s.db.GetGen(r.Context(), h, gentype); ok && gen.Mimetype != "" {
			w.Header().Set("Content-Type", gen.Mimetype)
		}
	} else if meta, ok, _ := s.db.GetMeta(r.Context(), h); ok && meta.Mimetype != "" {
		w.Header().Set("Content-Type", meta.Mimetype)
	}
	http.ServeContent(w, r, h.String(), modTimeOf(f), f)
}

func modTimeOf(f *os.File) time.Time {
	fi, err := f.Stat()
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}
