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
	"context"
	"net/http"
	"strings"

	"sunwet.dev/sunwet/pkg/access"
)

// sessionCookie is the name of the cookie the OIDC callback sets,
// holding the verified user id.
const sessionCookie = "sunwet_session"

// staticUserConfigProvider satisfies access.UserConfigProvider from the
// server config's static users map.
type staticUserConfigProvider map[string][]string

func (p staticUserConfigProvider) FetchUserConfig(ctx context.Context, userID string) (access.UserConfig, error) {
	return access.UserConfig{Grants: access.LimitedGrants(p[userID]...)}, nil
}

// identity resolves the caller's Identity from the request: a bearer
// token matching one of the configured admin tokens elevates to
// Admin; a valid session cookie resolves to a User identity; anything
// else is Public.
func (s *Server) identity(r *http.Request) access.Identity {
	if tok := bearerToken(r); tok != "" {
		for _, admin := range s.cfg.AdminTokens {
			if tok == admin {
				return access.TokenIdentity(access.AdminGrants())
			}
		}
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return access.UserIdentity(c.Value)
	}
	return access.PublicIdentity()
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

func (s *Server) grants(r *http.Request) (access.Grants, error) {
	return s.access.Resolve(r.Context(), s.identity(r))
}
