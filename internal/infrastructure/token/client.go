// Package token fetches audio-transport credentials from the out-of-band
// token endpoint.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"voxlobby/internal/core/domain"
	"voxlobby/internal/core/ports"
	"voxlobby/pkg/retry"
)

// FailureClass distinguishes remediation paths: a missing endpoint means a
// deploy problem, an issuer failure means the endpoint's own keys are bad,
// a rejection means this room/identity was refused.
type FailureClass string

const (
	ClassEndpointMissing FailureClass = "endpoint_missing"
	ClassRejected        FailureClass = "rejected"
	ClassIssuerFailure   FailureClass = "issuer_failure"
	ClassNetwork         FailureClass = "network"
)

// CredentialError is a classified token-fetch failure. It unwraps to
// domain.ErrCredentialFetch.
type CredentialError struct {
	Class  FailureClass
	Status int
	Detail string
}

func (e *CredentialError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%v: %s (HTTP %d): %s", domain.ErrCredentialFetch, e.Class, e.Status, e.Detail)
	}
	return fmt.Sprintf("%v: %s: %s", domain.ErrCredentialFetch, e.Class, e.Detail)
}

func (e *CredentialError) Unwrap() error { return domain.ErrCredentialFetch }

// Client calls GET {base}/token?room=<name>&identity=<id>. Any non-2xx
// response is a hard failure for the join attempt; 5xx and network errors
// are retried with backoff before giving up.
type Client struct {
	baseURL  string
	http     *http.Client
	retryCfg retry.Config
	logger   *zap.SugaredLogger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		retryCfg: retry.DefaultConfig(),
		logger:   logger,
	}
}

var _ ports.TokenProvider = (*Client)(nil)

func (c *Client) Token(ctx context.Context, roomName, identity string) (string, error) {
	q := url.Values{}
	q.Set("room", roomName)
	q.Set("identity", identity)
	endpoint := c.baseURL + "/token?" + q.Encode()

	tok, err := retry.DoWithResult(ctx, c.retryCfg, func() (string, error) {
		return c.fetch(ctx, endpoint)
	})
	if err != nil {
		return "", err
	}

	if err := checkNotExpired(tok); err != nil {
		return "", err
	}
	return tok, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", &retry.Permanent{Err: &CredentialError{Class: ClassNetwork, Detail: err.Error()}}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &CredentialError{Class: ClassNetwork, Detail: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Token == "" {
			return "", &retry.Permanent{Err: &CredentialError{
				Class:  ClassIssuerFailure,
				Status: resp.StatusCode,
				Detail: "response did not contain a token",
			}}
		}
		return body.Token, nil

	case resp.StatusCode == http.StatusNotFound:
		return "", &retry.Permanent{Err: &CredentialError{
			Class:  ClassEndpointMissing,
			Status: resp.StatusCode,
			Detail: "token endpoint not found, check deployment",
		}}

	case resp.StatusCode >= 500:
		// Issuer trouble can be transient, let the backoff have a go.
		return "", &CredentialError{
			Class:  ClassIssuerFailure,
			Status: resp.StatusCode,
			Detail: "token generation failed, check issuer keys",
		}

	default:
		return "", &retry.Permanent{Err: &CredentialError{
			Class:  ClassRejected,
			Status: resp.StatusCode,
			Detail: "credential request rejected",
		}}
	}
}

// checkNotExpired fails fast when the credential is a JWT whose exp already
// passed; dialing the transport with it would only fail later and slower.
// Opaque non-JWT credentials pass through untouched.
func checkNotExpired(tok string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(time.Now()) {
		return &CredentialError{
			Class:  ClassRejected,
			Detail: "credential already expired at issue",
		}
	}
	return nil
}
