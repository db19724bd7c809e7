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

package access

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// TokenVerifier checks a bearer ID token's signature and claims and
// resolves it to a user id. The login/consent redirect dance lives
// with the identity provider integration; verifying what it hands
// back is this system's job.
type TokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewTokenVerifier discovers issuer's OIDC configuration and builds a
// verifier scoped to clientID.
func NewTokenVerifier(ctx context.Context, issuer, clientID string) (*TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("access: discovering oidc provider %q: %w", issuer, err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return &TokenVerifier{verifier: verifier}, nil
}

// VerifyUserID verifies rawIDToken and returns its subject claim, the
// user id Identity.Kind == IdentityUser expects.
func (v *TokenVerifier) VerifyUserID(ctx context.Context, rawIDToken string) (string, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("access: verifying id token: %w", err)
	}
	if idToken.Subject == "" {
		return "", fmt.Errorf("access: id token has no subject claim")
	}
	return idToken.Subject, nil
}
