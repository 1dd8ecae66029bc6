package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskforum/backend/internal/logging"
	"taskforum/backend/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const maxUserResponseBytes = 1 << 20

type RemoteVerifierConfig struct {
	BaseURL     string
	ServiceKey  string
	AnonKey     string
	Timeout     time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
	HTTPClient  *http.Client
	Logger      *logrus.Logger
}

// RemoteTokenVerifier validates tokens by asking the Supabase auth server
// (GoTrue) for the user the token belongs to, authenticated with the
// service-role key.
type RemoteTokenVerifier struct {
	baseURL    string
	serviceKey string
	anonKey    string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        *logrus.Logger
}

type gotrueUser struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	Role         string                 `json:"role"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
}

func NewRemoteTokenVerifier(cfg RemoteVerifierConfig) *RemoteTokenVerifier {
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	v := &RemoteTokenVerifier{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		serviceKey: cfg.ServiceKey,
		anonKey:    cfg.AnonKey,
		client:     client,
		log:        log,
	}

	v.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "identity-provider",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// a rejected token is a healthy answer from the provider
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidToken)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})

	return v
}

func (v *RemoteTokenVerifier) VerifyToken(ctx context.Context, token string) (*models.Principal, error) {
	result, err := v.breaker.Execute(func() (interface{}, error) {
		return v.fetchUser(ctx, token)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Principal), nil
}

func (v *RemoteTokenVerifier) fetchUser(ctx context.Context, token string) (*models.Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", v.serviceKey)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxUserResponseBytes))
		return nil, ErrInvalidToken
	default:
		return nil, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	var user gotrueUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserResponseBytes)).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode identity provider response: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("%w: user has no id", ErrInvalidToken)
	}

	return &models.Principal{
		ID:       user.ID,
		Email:    user.Email,
		Role:     user.Role,
		Metadata: user.UserMetadata,
	}, nil
}

// Health probes the auth server with the restricted anon key.
func (v *RemoteTokenVerifier) Health(ctx context.Context) error {
	key := v.anonKey
	if key == "" {
		key = v.serviceKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", key)

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxUserResponseBytes))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("identity provider health returned status %d", resp.StatusCode)
	}
	return nil
}

func (v *RemoteTokenVerifier) BreakerState() string {
	return v.breaker.State().String()
}
