package agentrun

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
)

// IDTokenSource mints Google-signed identity tokens for audience, the
// runtime's base URL. Credentials come from the ambient environment (metadata
// server on Cloud Run, GOOGLE_APPLICATION_CREDENTIALS elsewhere).
func IDTokenSource(ctx context.Context, audience string) (oauth2.TokenSource, error) {
	if audience == "" {
		return nil, errors.New("agentrun: id token audience must not be empty")
	}
	ts, err := idtoken.NewTokenSource(ctx, audience)
	if err != nil {
		return nil, fmt.Errorf("agentrun: id token source: %w", err)
	}
	return ts, nil
}

// StaticTokenSource always returns token as a bearer credential.
func StaticTokenSource(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}
