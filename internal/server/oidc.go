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
)

// handleOIDCCallback is the boundary of the OIDC identity
// integration: the login/consent redirect dance happens upstream, and
// this endpoint only receives the resulting id_token, verifies it with
// access.TokenVerifier, and opens a session by setting sessionCookie
// to the verified subject.
func (s *Server) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("oidc not configured"))
		return
	}
	rawIDToken := r.URL.Query().Get("id_token")
	if rawIDToken == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing id_token"))
		return
	}
	userID, err := s.verifier.VerifyUserID(r.Context(), rawIDToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    userID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
	})
	redirectTo := r.URL.Query().Get("return")
	if redirectTo == "" {
		redirectTo = "/"
	}
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

// handleLogout clears the session cookie and redirects to the url
// query parameter.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	redirectTo := r.URL.Query().Get("url")
	if redirectTo == "" {
		redirectTo = "/"
	}
	http.Redirect(w, r, redirectTo, http.StatusFound)
}
