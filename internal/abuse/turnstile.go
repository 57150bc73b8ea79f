package abuse

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TurnstileVerifier checks challenge tokens against the siteverify
// endpoint. A nil verifier is disabled and allows everything.
type TurnstileVerifier struct {
	client    *http.Client
	verifyURL string
	secret    string
	log       *slog.Logger
}

// NewTurnstileVerifier returns nil when no secret is configured.
func NewTurnstileVerifier(verifyURL, secret string, log *slog.Logger) *TurnstileVerifier {
	if secret == "" {
		return nil
	}
	return &TurnstileVerifier{
		client:    &http.Client{Timeout: 5 * time.Second},
		verifyURL: verifyURL,
		secret:    secret,
		log:       log,
	}
}

type turnstileResponse struct {
	Success bool `json:"success"`
}

// Verify checks one challenge token. A missing token or any verification
// failure denies.
func (v *TurnstileVerifier) Verify(ctx context.Context, token, remoteIP string) bool {
	if v == nil {
		return true
	}
	if token == "" {
		return false
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		v.log.Warn("turnstile verification unreachable", "err", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result turnstileResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}
	return result.Success
}
