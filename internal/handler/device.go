package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/savesync-app/backend/internal/model"
	"github.com/savesync-app/backend/internal/store"
	"github.com/savesync-app/backend/internal/token"
	"github.com/savesync-app/backend/internal/validate"
)

// DeviceHandler implements the device registry routes.
type DeviceHandler struct {
	devices store.DeviceStore
	tokens  *token.Service
	log     *slog.Logger
}

// NewDeviceHandler wires a DeviceHandler.
func NewDeviceHandler(devices store.DeviceStore, tokens *token.Service, log *slog.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, tokens: tokens, log: log}
}

type deviceRequest struct {
	DeviceID   string `json:"device_id"`
	Platform   string `json:"platform,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
}

// Register upserts a device record for the authenticated user.
func (h *DeviceHandler) Register(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, ok := Authenticate(req, h.tokens)
	if !ok {
		return RespondError(CodeUnauthorized), nil
	}

	var in deviceRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return RespondError(CodeInvalidJSON), nil
	}
	if !validate.ID(in.DeviceID) {
		return RespondError(CodeInvalidDeviceID), nil
	}

	device, err := h.devices.Upsert(ctx, claims.UserID, model.DeviceRecord{
		DeviceID:   in.DeviceID,
		Platform:   validate.Platform(in.Platform),
		DeviceName: validate.DeviceName(in.DeviceName),
	})
	if err != nil {
		h.log.Error("device upsert failed", "user_id", claims.UserID, "err", err)
		return RespondError(CodeInternal), nil
	}
	return RespondJSON(http.StatusOK, map[string]any{"ok": true, "device": device}), nil
}

// List returns the authenticated user's devices.
func (h *DeviceHandler) List(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, ok := Authenticate(req, h.tokens)
	if !ok {
		return RespondError(CodeUnauthorized), nil
	}

	devices, err := h.devices.List(ctx, claims.UserID)
	if err != nil {
		h.log.Error("device list failed", "user_id", claims.UserID, "err", err)
		return RespondError(CodeInternal), nil
	}
	return RespondJSON(http.StatusOK, map[string]any{"ok": true, "devices": devices}), nil
}

// Remove deletes a device record. The session's own device cannot be
// removed: a client that locked itself out this way would keep a token
// bound to a device the server no longer knows.
func (h *DeviceHandler) Remove(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, ok := Authenticate(req, h.tokens)
	if !ok {
		return RespondError(CodeUnauthorized), nil
	}

	var in deviceRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return RespondError(CodeInvalidJSON), nil
	}
	if !validate.ID(in.DeviceID) {
		return RespondError(CodeInvalidDeviceID), nil
	}
	if claims.DeviceID != "" && in.DeviceID == claims.DeviceID {
		return RespondError(CodeInvalidPayload), nil
	}

	if err := h.devices.Remove(ctx, claims.UserID, in.DeviceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return RespondError(CodeDeviceNotFound), nil
		}
		h.log.Error("device remove failed", "user_id", claims.UserID, "err", err)
		return RespondError(CodeInternal), nil
	}
	return RespondJSON(http.StatusOK, map[string]any{"ok": true}), nil
}
