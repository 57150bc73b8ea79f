// Package handler implements the broker's HTTP surface. Every handler
// method takes an API Gateway proxy request and returns a proxy response;
// errors never escape a handler — they are mapped to the wire error codes
// and logged server-side.
package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/savesync-app/backend/internal/token"
)

// Wire error codes. Internal detail never reaches the client; these codes
// are the whole vocabulary.
const (
	CodeInvalidJSON        = "invalid_json"
	CodeInvalidPayload     = "invalid_payload"
	CodeInvalidEmail       = "invalid_email"
	CodeWeakPassword       = "weak_password"
	CodeInvalidDeviceID    = "invalid_device_id"
	CodeEmailTaken         = "email_already_registered"
	CodeInvalidCredentials = "invalid_credentials"
	CodeUnauthorized       = "unauthorized"
	CodeInvalidWorkerToken = "invalid_worker_token"
	CodeSizeMismatch       = "size_mismatch"
	CodeUploadMissing      = "upload_missing"
	CodeVersionNotFound    = "version_not_found"
	CodeObjectMissing      = "object_missing"
	CodeDeviceNotFound     = "device_not_found"
	CodeAccessDenied       = "access_denied"
	CodeBotDetected        = "bot_detected"
	CodeRateLimited        = "rate_limited"
	CodePresignFailed      = "presign_failed"
	CodeMetadataLoad       = "metadata_load_failed"
	CodeMetadataSave       = "metadata_save_failed"
	CodeMetadataCorrupted  = "metadata_corrupted"
	CodeInternal           = "internal_error"
)

var codeStatus = map[string]int{
	CodeInvalidJSON:        http.StatusBadRequest,
	CodeInvalidPayload:     http.StatusBadRequest,
	CodeInvalidEmail:       http.StatusBadRequest,
	CodeWeakPassword:       http.StatusBadRequest,
	CodeInvalidDeviceID:    http.StatusBadRequest,
	CodeEmailTaken:         http.StatusBadRequest,
	CodeInvalidCredentials: http.StatusUnauthorized,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeInvalidWorkerToken: http.StatusUnauthorized,
	CodeSizeMismatch:       http.StatusBadRequest,
	CodeUploadMissing:      http.StatusNotFound,
	CodeVersionNotFound:    http.StatusNotFound,
	CodeObjectMissing:      http.StatusNotFound,
	CodeDeviceNotFound:     http.StatusNotFound,
	CodeAccessDenied:       http.StatusForbidden,
	CodeBotDetected:        http.StatusBadRequest,
	CodeRateLimited:        http.StatusTooManyRequests,
	CodePresignFailed:      http.StatusInternalServerError,
	CodeMetadataLoad:       http.StatusInternalServerError,
	CodeMetadataSave:       http.StatusInternalServerError,
	CodeMetadataCorrupted:  http.StatusInternalServerError,
	CodeInternal:           http.StatusInternalServerError,
}

// RespondJSON marshals v as the response body with the given status.
func RespondJSON(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"error":"internal_error"}`,
			Headers:    map[string]string{"Content-Type": "application/json"},
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// RespondError maps a wire code to its status and `{"error":code}` body.
func RespondError(code string) events.APIGatewayProxyResponse {
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return RespondJSON(status, map[string]string{"error": code})
}

// Header looks a header up case-insensitively; API Gateway does not
// normalize header casing.
func Header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Authenticate extracts and verifies the bearer session token.
func Authenticate(req events.APIGatewayProxyRequest, tokens *token.Service) (*token.SessionClaims, bool) {
	auth := Header(req, "Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return nil, false
	}
	return tokens.VerifySession(strings.TrimPrefix(auth, "Bearer "))
}

// ClientIP returns the caller's IP for rate limiting and challenge
// verification: the gateway-provided source IP when present, else the
// first X-Forwarded-For hop.
func ClientIP(req events.APIGatewayProxyRequest) string {
	if ip := req.RequestContext.Identity.SourceIP; ip != "" {
		return ip
	}
	if fwd := Header(req, "X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return ""
}
