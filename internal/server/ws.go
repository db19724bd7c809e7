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
	"strings"
)

// handlePrimaryWS upgrades /main/<session_id> to the primary playback
// websocket.
func (s *Server) handlePrimaryWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/main/")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing session id"))
		return
	}
	s.hub.ServePrimary(w, r, sessionID)
}

// handleLinkWS upgrades /link/<session_id> to a link playback websocket.
func (s *Server) handleLinkWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/link/")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing session id"))
		return
	}
	s.hub.ServeLink(w, r, sessionID)
}
