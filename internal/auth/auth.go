// Package auth validates player bearer tokens before a session may act.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates the token is definitively invalid.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrUnavailable indicates the auth service is unreachable or unavailable.
	// Callers may choose to fail open (allow) or fail closed (reject).
	ErrUnavailable = errors.New("auth: unavailable")
)

// Identity is an authenticated player.
type Identity struct {
	PlayerID    string   `json:"player_id"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles,omitempty"`
}

// Validator validates authentication tokens.
type Validator interface {
	// Validate checks if a token is valid and returns the player identity.
	// Returns:
	//   - (*Identity, nil) if token is valid
	//   - (nil, ErrInvalidToken) if token is definitively invalid
	//   - (nil, ErrUnavailable) if the auth service is unavailable
	Validate(ctx context.Context, token string) (*Identity, error)
}

// HTTPValidator validates tokens via HTTP callback to an external service.
type HTTPValidator struct {
	url         string
	client      *http.Client
	adminSecret string
}

// NewHTTPValidator creates a validator that calls an external HTTP endpoint.
func NewHTTPValidator(url string, adminSecret string) *HTTPValidator {
	return &HTTPValidator{
		url:         url,
		adminSecret: adminSecret,
		client: &http.Client{
			Timeout: 500 * time.Millisecond, // Align with context timeout
		},
	}
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Valid       bool     `json:"valid"`
	PlayerID    string   `json:"player_id,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func (v *HTTPValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	reqBody, err := json.Marshal(validateRequest{Token: token})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if v.adminSecret != "" {
		req.Header.Set("X-Admin-Secret", v.adminSecret)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		// Network errors, timeouts, etc. = unavailable
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Success - decode response
	case http.StatusUnauthorized, http.StatusForbidden:
		// Definitive rejection
		return nil, ErrInvalidToken
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	// Limit response body to 1MB to avoid pathological responses
	limitedReader := io.LimitReader(resp.Body, 1<<20)

	var authResp validateResponse
	if err := json.NewDecoder(limitedReader).Decode(&authResp); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrUnavailable, err)
	}

	if !authResp.Valid {
		return nil, ErrInvalidToken
	}

	return &Identity{
		PlayerID:    authResp.PlayerID,
		DisplayName: authResp.DisplayName,
		Roles:       authResp.Roles,
	}, nil
}

// StaticValidator maps pre-shared tokens to identities. Dev and test mode;
// no network dependency.
type StaticValidator struct {
	identities map[string]Identity
}

// NewStaticValidator builds a validator from "token:player_id:display_name"
// tuples. A fourth colon-separated field lists comma-joined roles.
func NewStaticValidator(tuples []string) (*StaticValidator, error) {
	identities := make(map[string]Identity, len(tuples))
	for _, tuple := range tuples {
		parts := strings.SplitN(tuple, ":", 4)
		if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("auth: malformed token tuple %q", tuple)
		}
		id := Identity{PlayerID: parts[1], DisplayName: parts[2]}
		if len(parts) == 4 && parts[3] != "" {
			id.Roles = strings.Split(parts[3], ",")
		}
		identities[parts[0]] = id
	}
	return &StaticValidator{identities: identities}, nil
}

func (v *StaticValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	id, ok := v.identities[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	out := id
	return &out, nil
}

// OpenValidator accepts any non-empty token and uses it as the player id.
// Local single-node dev only.
type OpenValidator struct{}

func NewOpenValidator() *OpenValidator {
	return &OpenValidator{}
}

func (v *OpenValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{PlayerID: token, DisplayName: token}, nil
}
