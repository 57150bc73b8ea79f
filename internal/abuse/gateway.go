// Package abuse gates requests before any business logic runs: a zero-trust
// gateway assertion check, a bot-challenge verification, and a soft
// fixed-window rate limiter.
package abuse

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// AssertionHeader carries the gateway's signed identity assertion.
const AssertionHeader = "Cf-Access-Jwt-Assertion"

// GatewayChecker verifies gateway assertions against an external
// verification endpoint. A nil checker is disabled and allows everything.
type GatewayChecker struct {
	client    *http.Client
	verifyURL string
	audience  string
	log       *slog.Logger
}

// NewGatewayChecker returns nil when verifyURL is empty (check disabled).
func NewGatewayChecker(verifyURL, audience string, log *slog.Logger) *GatewayChecker {
	if verifyURL == "" {
		return nil
	}
	return &GatewayChecker{
		client:    &http.Client{Timeout: 5 * time.Second},
		verifyURL: verifyURL,
		audience:  audience,
		log:       log,
	}
}

type gatewayVerifyRequest struct {
	Token string `json:"token"`
}

type gatewayVerifyResponse struct {
	Audience string `json:"aud"`
}

// Check verifies the assertion. Missing assertion, transport failure,
// non-200 response, or audience mismatch all deny; there is no soft path.
func (g *GatewayChecker) Check(ctx context.Context, assertion string) bool {
	if g == nil {
		return true
	}
	if assertion == "" {
		return false
	}

	body, err := json.Marshal(gatewayVerifyRequest{Token: assertion})
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.verifyURL, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Warn("gateway verification unreachable", "err", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var verified gatewayVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verified); err != nil {
		return false
	}
	return verified.Audience == g.audience
}
