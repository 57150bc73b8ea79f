package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/savesync-app/backend/internal/abuse"
	"github.com/savesync-app/backend/internal/model"
	"github.com/savesync-app/backend/internal/password"
	"github.com/savesync-app/backend/internal/store"
	"github.com/savesync-app/backend/internal/token"
	"github.com/savesync-app/backend/internal/validate"
)

// AuthHandler implements signup and login.
type AuthHandler struct {
	users     store.UserStore
	devices   store.DeviceStore
	hasher    password.Hasher
	tokens    *token.Service
	turnstile *abuse.TurnstileVerifier
	log       *slog.Logger
	now       func() time.Time
}

// NewAuthHandler wires an AuthHandler.
func NewAuthHandler(users store.UserStore, devices store.DeviceStore, hasher password.Hasher, tokens *token.Service, turnstile *abuse.TurnstileVerifier, log *slog.Logger) *AuthHandler {
	return &AuthHandler{
		users:     users,
		devices:   devices,
		hasher:    hasher,
		tokens:    tokens,
		turnstile: turnstile,
		log:       log,
		now:       time.Now,
	}
}

type credentialsRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	DeviceID       string `json:"device_id,omitempty"`
	Platform       string `json:"platform,omitempty"`
	DeviceName     string `json:"device_name,omitempty"`
	TurnstileToken string `json:"turnstile_token,omitempty"`
}

type authResponse struct {
	OK       bool   `json:"ok"`
	UserID   string `json:"user_id"`
	Token    string `json:"token"`
	Exp      int64  `json:"exp"`
	Email    string `json:"email"`
	DeviceID string `json:"device_id,omitempty"`
}

// Signup creates an account, optionally registers the signing-up device,
// and issues a session token.
func (h *AuthHandler) Signup(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var in credentialsRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return RespondError(CodeInvalidJSON), nil
	}
	if !h.turnstile.Verify(ctx, in.TurnstileToken, ClientIP(req)) {
		return RespondError(CodeBotDetected), nil
	}

	email, ok := validate.Email(in.Email)
	if !ok {
		return RespondError(CodeInvalidEmail), nil
	}
	if !validate.Password(in.Password) {
		return RespondError(CodeWeakPassword), nil
	}
	if in.DeviceID != "" && !validate.ID(in.DeviceID) {
		return RespondError(CodeInvalidDeviceID), nil
	}

	hash, err := h.hasher.Hash(in.Password)
	if err != nil {
		h.log.Error("password hash failed", "err", err)
		return RespondError(CodeInternal), nil
	}

	now := h.now().Unix()
	account := &model.UserAccount{
		UserID:       uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.users.Create(ctx, account); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return RespondError(CodeEmailTaken), nil
		}
		h.log.Error("account create failed", "err", err)
		return RespondError(CodeInternal), nil
	}

	if in.DeviceID != "" {
		h.upsertDevice(ctx, account.UserID, in)
	}

	tok, exp, err := h.tokens.IssueSession(account.UserID, in.DeviceID)
	if err != nil {
		h.log.Error("session token signing failed", "err", err)
		return RespondError(CodeInternal), nil
	}
	return RespondJSON(http.StatusOK, authResponse{
		OK:       true,
		UserID:   account.UserID,
		Token:    tok,
		Exp:      exp,
		Email:    email,
		DeviceID: in.DeviceID,
	}), nil
}

// Login verifies credentials and issues a session token. Unknown email and
// wrong password produce the same code so login cannot be used to probe
// which emails are registered.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var in credentialsRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return RespondError(CodeInvalidJSON), nil
	}
	if !h.turnstile.Verify(ctx, in.TurnstileToken, ClientIP(req)) {
		return RespondError(CodeBotDetected), nil
	}

	email, ok := validate.Email(in.Email)
	if !ok {
		return RespondError(CodeInvalidEmail), nil
	}
	if in.DeviceID != "" && !validate.ID(in.DeviceID) {
		return RespondError(CodeInvalidDeviceID), nil
	}
	if in.Password == "" {
		return RespondError(CodeInvalidCredentials), nil
	}

	account, err := h.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return RespondError(CodeInvalidCredentials), nil
		}
		h.log.Error("account lookup failed", "err", err)
		return RespondError(CodeInternal), nil
	}
	if !h.hasher.Verify(in.Password, account.PasswordHash) {
		return RespondError(CodeInvalidCredentials), nil
	}

	if in.DeviceID != "" {
		h.upsertDevice(ctx, account.UserID, in)
	}

	tok, exp, err := h.tokens.IssueSession(account.UserID, in.DeviceID)
	if err != nil {
		h.log.Error("session token signing failed", "err", err)
		return RespondError(CodeInternal), nil
	}
	return RespondJSON(http.StatusOK, authResponse{
		OK:       true,
		UserID:   account.UserID,
		Token:    tok,
		Exp:      exp,
		Email:    email,
		DeviceID: in.DeviceID,
	}), nil
}

// upsertDevice refreshes the device record. Losing this write costs a
// stale last_seen, not a failed signup or login.
func (h *AuthHandler) upsertDevice(ctx context.Context, userID string, in credentialsRequest) {
	_, err := h.devices.Upsert(ctx, userID, model.DeviceRecord{
		DeviceID:   in.DeviceID,
		Platform:   validate.Platform(in.Platform),
		DeviceName: validate.DeviceName(in.DeviceName),
	})
	if err != nil {
		h.log.Warn("device upsert failed", "user_id", userID, "device_id", in.DeviceID, "err", err)
	}
}
