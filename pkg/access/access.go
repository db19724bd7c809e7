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

// Package access collapses an identity into the set of menu items it
// may use. The identity-provider integrations and configuration
// loading live elsewhere -- this package consumes their outputs (a
// resolved user id, a user-config fetch function, world grants from
// global config) rather than performing the HTTP/callback plumbing,
// except for ID token verification (oidc.go).
package access

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Grants is an IamGrants value: either Admin (every menu
// item) or a Limited set of permitted item ids.
type Grants struct {
	Admin bool
	Items map[string]bool
}

// AdminGrants is the Admin variant.
func AdminGrants() Grants { return Grants{Admin: true} }

// LimitedGrants is the Limited(set) variant.
func LimitedGrants(items ...string) Grants {
	set := make(map[string]bool, len(items))
	for _, id := range items {
		set[id] = true
	}
	return Grants{Items: set}
}

// Contains reports whether id is permitted under g.
func (g Grants) Contains(id string) bool {
	return g.Admin || g.Items[id]
}

// IdentityKind distinguishes the three ways a request can present
// itself.
type IdentityKind int

const (
	IdentityToken IdentityKind = iota
	IdentityUser
	IdentityPublic
)

// Identity is what a caller already resolved before asking for grants:
// a bearer token's own static grants, a user id to look up, or the
// anonymous/public case.
type Identity struct {
	Kind        IdentityKind
	TokenGrants Grants
	UserID      string
}

// TokenIdentity builds an Identity for a bearer token carrying its own
// static grants.
func TokenIdentity(grants Grants) Identity {
	return Identity{Kind: IdentityToken, TokenGrants: grants}
}

// UserIdentity builds an Identity for a resolved user id.
func UserIdentity(userID string) Identity {
	return Identity{Kind: IdentityUser, UserID: userID}
}

// PublicIdentity is the anonymous case.
func PublicIdentity() Identity { return Identity{Kind: IdentityPublic} }

// UserConfig is the subset of a user's config this package cares
// about: their grants. Fetching it from wherever user configs live is
// the external collaborator's job; UserConfigProvider is the seam.
type UserConfig struct {
	Grants Grants
}

// UserConfigProvider fetches a user's config; implemented by whatever
// external config-loading layer a deployment wires in.
type UserConfigProvider interface {
	FetchUserConfig(ctx context.Context, userID string) (UserConfig, error)
}

// Resolver turns an Identity into Grants, caching
// User-identity lookups so a hot request path doesn't refetch a user's
// config on every call.
type Resolver struct {
	provider    UserConfigProvider
	worldGrants Grants
	cache       *ristretto.Cache
	cacheTTL    time.Duration
}

// Config tunes the Resolver's cache.
type Config struct {
	// CacheTTL bounds how long a fetched user-config is trusted
	// before Resolve refetches it. Default 5 minutes.
	CacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	return c
}

// NewResolver builds a Resolver. worldGrants is the Public identity's
// grants.
func NewResolver(provider UserConfigProvider, worldGrants Grants, cfg Config) (*Resolver, error) {
	cfg = cfg.withDefaults()
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("access: building user-config cache: %w", err)
	}
	return &Resolver{provider: provider, worldGrants: worldGrants, cache: cache, cacheTTL: cfg.CacheTTL}, nil
}

// Resolve collapses identity into Grants.
func (r *Resolver) Resolve(ctx context.Context, identity Identity) (Grants, error) {
	switch identity.Kind {
	case IdentityToken:
		return identity.TokenGrants, nil
	case IdentityPublic:
		return r.worldGrants, nil
	case IdentityUser:
		return r.resolveUser(ctx, identity.UserID)
	default:
		return Grants{}, fmt.Errorf("access: unknown identity kind %d", identity.Kind)
	}
}

func (r *Resolver) resolveUser(ctx context.Context, userID string) (Grants, error) {
	if cached, ok := r.cache.Get(userID); ok {
		return cached.(Grants), nil
	}
	cfg, err := r.provider.FetchUserConfig(ctx, userID)
	if err != nil {
		return Grants{}, fmt.Errorf("access: fetching user config for %q: %w", userID, err)
	}
	r.cache.SetWithTTL(userID, cfg.Grants, 1, r.cacheTTL)
	r.cache.Wait()
	return cfg.Grants, nil
}

// Invalidate drops any cached grants for userID, e.g. after an admin
// edits that user's config.
func (r *Resolver) Invalidate(userID string) {
	r.cache.Del(userID)
}
