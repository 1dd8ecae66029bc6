package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskforum/backend/internal/models"
)

// ErrInvalidToken means the identity provider rejected the credential. It is
// an expected outcome, not an outage.
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenVerifier asks an identity provider which principal a bearer token
// belongs to. Implementations return ErrInvalidToken (possibly wrapped) for
// rejected tokens and any other error for faults.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*models.Principal, error)
}

// BearerToken extracts the credential from an Authorization header value.
// The scheme is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// Authenticate resolves an Authorization header to an identity. It never
// fails: every problem yields Anonymous. The error only explains a downgrade
// (for logging) and is nil when no credential was presented at all.
func Authenticate(ctx context.Context, verifier TokenVerifier, header string) (identity models.Identity, reason error) {
	token, ok := BearerToken(header)
	if !ok {
		if strings.TrimSpace(header) != "" {
			return models.Anonymous(), errors.New("malformed authorization header")
		}
		return models.Anonymous(), nil
	}

	defer func() {
		if r := recover(); r != nil {
			identity = models.Anonymous()
			reason = fmt.Errorf("token verifier panicked: %v", r)
		}
	}()

	principal, err := verifier.VerifyToken(ctx, token)
	if err != nil {
		return models.Anonymous(), err
	}
	if principal == nil || principal.ID == "" {
		return models.Anonymous(), fmt.Errorf("%w: provider returned no principal", ErrInvalidToken)
	}

	return models.Authenticated(*principal), nil
}
