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
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"sunwet.dev/sunwet/pkg/access"
	"sunwet.dev/sunwet/pkg/commit"
	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/formcommit"
	"sunwet.dev/sunwet/pkg/query"
	"sunwet.dev/sunwet/pkg/triple"
)

// maxAPIBody bounds a POST /api request body; chunk uploads go through
// /file, not /api, so this only needs to hold a commit/query payload.
const maxAPIBody = 8 << 20

// apiEnvelope is the {kind, ...} request shape POST /api takes; the
// remaining per-kind fields are decoded again from raw once kind is
// known.
type apiEnvelope struct {
	Kind string `json:"kind"`
}

// handleAPI dispatches POST /api by its "kind" field.
func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	raw, err := jsonBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	grants, err := s.grants(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	switch env.Kind {
	case "commit":
		s.apiCommit(w, r, raw)
	case "form_commit":
		s.apiFormCommit(w, r, raw)
	case "upload_finish":
		s.apiUploadFinish(w, r, raw)
	case "query":
		s.apiQuery(w, r, raw)
	case "view_query":
		s.apiViewQuery(w, r, raw, grants)
	case "get_triples_around":
		s.apiTriplesAround(w, r, raw)
	case "history":
		s.apiHistory(w, r, raw)
	case "get_client_config":
		s.apiClientConfig(w, r, grants)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown kind %q", env.Kind))
	}
}

func jsonBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxAPIBody))
}

func (s *Server) apiCommit(w http.ResponseWriter, r *http.Request, raw []byte) {
	var req struct {
		Add     []triple.Triple   `json:"add"`
		Remove  []triple.Triple   `json:"remove"`
		Files   []commit.FileDecl `json:"files"`
		Comment string            `json:"comment"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := commit.Apply(r.Context(), s.db, s.store, notifierFunc(s.generate.Enqueue), commit.Request{
		Add: req.Add, Remove: req.Remove, Files: req.Files, Comment: req.Comment,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, resp)
}

type notifierFunc func(fhash.Hash)

func (f notifierFunc) Notify(h fhash.Hash) { f(h) }

func (s *Server) apiFormCommit(w http.ResponseWriter, r *http.Request, raw []byte) {
	var req struct {
		FormID   string                         `json:"form_id"`
		Values   map[string]query.TreeNode      `json:"values"`
		FileMeta map[string]formcommit.FileMeta `json:"file_meta"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	form, ok := s.cfg.Forms[req.FormID]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown form %q", req.FormID))
		return
	}
	fileMeta := make(map[fhash.Hash]formcommit.FileMeta, len(req.FileMeta))
	for k, v := range req.FileMeta {
		h, err := fhash.Parse(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		fileMeta[h] = v
	}
	result, err := formcommit.Build(formcommit.NewBuilder(), form, req.Values, fileMeta)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := commit.Apply(r.Context(), s.db, s.store, notifierFunc(s.generate.Enqueue), commit.Request{
		Add: result.Triples, Files: result.Files, Comment: "form:" + req.FormID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) apiUploadFinish(w http.ResponseWriter, r *http.Request, raw []byte) {
	var req struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h, err := fhash.Parse(req.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.upload.Finish(h)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if result.Done {
		s.generate.Enqueue(h)
	}
	writeJSON(w, result)
}

type queryRequest struct {
	Query  string                 `json:"query"`
	Params map[string]triple.Node `json:"params"`
	Page   query.Page             `json:"page"`
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request, src string, params map[string]triple.Node, page query.Page) {
	q, err := query.Parse(src)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	declared := make(map[string]bool, len(params))
	for name := range params {
		declared[name] = true
	}
	if err := query.Analyze(q, declared); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := query.Execute(r.Context(), &query.Env{DB: s.db, Params: params}, q, page)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) apiQuery(w http.ResponseWriter, r *http.Request, raw []byte) {
	var req queryRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.runQuery(w, r, req.Query, req.Params, req.Page)
}

func (s *Server) apiViewQuery(w http.ResponseWriter, r *http.Request, raw []byte, grants access.Grants) {
	var req struct {
		ViewID string                 `json:"view_id"`
		Params map[string]triple.Node `json:"params"`
		Page   query.Page             `json:"page"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !grants.Contains(req.ViewID) {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("not granted: %s", req.ViewID))
		return
	}
	src, ok := s.cfg.Views[req.ViewID]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown view %q", req.ViewID))
		return
	}
	s.runQuery(w, r, src, req.Params, req.Page)
}

func (s *Server) apiTriplesAround(w http.ResponseWriter, r *http.Request, raw []byte) {
	var req struct {
		Node triple.Node `json:"node"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	triples, err := s.db.TriplesAround(r.Context(), req.Node)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, struct {
		Triples []triple.Triple `json:"triples"`
	}{triples})
}

func (s *Server) apiHistory(w http.ResponseWriter, r *http.Request, raw []byte) {
	var req struct {
		Subject triple.Node `json:"subject"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := s.db.History(r.Context(), req.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, struct {
		Entries interface{} `json:"entries"`
	}{entries})
}

func (s *Server) apiClientConfig(w http.ResponseWriter, r *http.Request, grants access.Grants) {
	menu, ok := access.FilterMenu(s.cfg.Menu, grants)
	resp := struct {
		Menu    access.MenuNode `json:"menu"`
		HasMenu bool            `json:"has_menu"`
		IsAdmin bool            `json:"is_admin"`
	}{Menu: menu, HasMenu: ok, IsAdmin: grants.Admin}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already sent at this point; log only.
		log.Printf("server: encoding response: %v", err)
	}
}
