package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/savesync-app/backend/internal/abuse"
	"github.com/savesync-app/backend/internal/model"
	"github.com/savesync-app/backend/internal/objstore"
	"github.com/savesync-app/backend/internal/store"
	"github.com/savesync-app/backend/internal/token"
	"github.com/savesync-app/backend/internal/validate"
)

// ObjectBroker is the slice of the presigned object broker the save routes
// need; objstore.Broker implements it.
type ObjectBroker interface {
	PresignPut(ctx context.Context, key string) (string, error)
	PresignGet(ctx context.Context, key string) (string, error)
	Head(ctx context.Context, key string) (int64, error)
}

// SaveHandler implements the save-version routes: the presigned-upload
// protocol, downloads, and listing.
type SaveHandler struct {
	saves     store.SaveStore
	devices   store.DeviceStore
	downloads store.DownloadLog
	broker    ObjectBroker
	tokens    *token.Service
	turnstile *abuse.TurnstileVerifier
	log       *slog.Logger
	now       func() time.Time
}

// NewSaveHandler wires a SaveHandler.
func NewSaveHandler(saves store.SaveStore, devices store.DeviceStore, downloads store.DownloadLog, broker ObjectBroker, tokens *token.Service, turnstile *abuse.TurnstileVerifier, log *slog.Logger) *SaveHandler {
	return &SaveHandler{
		saves:     saves,
		devices:   devices,
		downloads: downloads,
		broker:    broker,
		tokens:    tokens,
		turnstile: turnstile,
		log:       log,
		now:       time.Now,
	}
}

type uploadRequest struct {
	GameID         string   `json:"game_id"`
	VersionID      string   `json:"version_id"`
	SizeBytes      int64    `json:"size_bytes"`
	SHA256         string   `json:"sha256"`
	FileList       []string `json:"file_list"`
	EmulatorID     string   `json:"emulator_id,omitempty"`
	DeviceID       string   `json:"device_id,omitempty"`
	TurnstileToken string   `json:"turnstile_token,omitempty"`
	WorkerToken    string   `json:"worker_token,omitempty"`
}

// validateUpload checks the shared upload-url / notify-upload payload and
// canonicalizes the digest and file list in place.
func validateUpload(in *uploadRequest) bool {
	if !validate.ID(in.GameID) || !validate.ID(in.VersionID) {
		return false
	}
	if in.EmulatorID != "" && !validate.ID(in.EmulatorID) {
		return false
	}
	if in.DeviceID != "" && !validate.ID(in.DeviceID) {
		return false
	}
	if !validate.SizeBytes(in.SizeBytes) {
		return false
	}
	sha, ok := validate.SHA256Hex(in.SHA256)
	if !ok {
		return false
	}
	in.SHA256 = sha
	files, ok := validate.FileList(in.FileList)
	if !ok {
		return false
	}
	in.FileList = files
	return true
}

// UploadURL validates the declared upload, presigns a PUT against the
// canonical key, and issues the short-lived upload token that notify-upload
// must present.
func (h *SaveHandler) UploadURL(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, ok := Authenticate(req, h.tokens)
	if !ok {
		return RespondError(CodeUnauthorized), nil
	}

	var in uploadRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return RespondError(CodeInvalidJSON), nil
	}
	if !h.turnstile.Verify(ctx, in.TurnstileToken, ClientIP(req)) {
		return RespondError(CodeBotDetected), nil
	}
	if !validateUpload(&in) {
		return RespondError(CodeInvalidPayload), nil
	}

	h.touchDevice(ctx, claims, in.DeviceID)

	key := objstore.Key(claims.UserID, in.GameID, in.VersionID)
	uploadURL, err := h.broker.PresignPut(ctx, key)
	if err != nil {
		h.log.Error("presign put failed", "user_id", claims.UserID, "key", key, "err", err)
		return RespondError(CodePresignFailed), nil
	}

	workerToken, _, err := h.tokens.IssueUpload(claims.UserID, in.DeviceID, key, in.VersionID)
	if err != nil {
		h.log.Error("upload token signing failed", "user_id", claims.UserID, "err", err)
		return RespondError(CodePresignFailed), nil
	}

	return RespondJSON(http.StatusOK, map[string]any{
		"ok":           true,
		"upload_url":   uploadURL,
		"r2_key":       key,
		"version_id":   in.VersionID,
		"worker_token": workerToken,
	}), nil
}

// NotifyUpload closes the upload protocol: the worker token must match the
// payload it was issued for, and the object must actually exist in the
// bucket with the declared size, before any metadata is written.
func (h *SaveHandler) NotifyUpload(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, ok := Authenticate(req, h.tokens)
	if !ok {
		return RespondError(CodeUnauthorized), nil
	}

	var in uploadRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return RespondError(CodeInvalidJSON), nil
	}
	if !validateUpload(&in) {
		return RespondError(CodeInvalidPayload), nil
	}

	upload, ok := h.tokens.VerifyUpload(in.WorkerToken)
	if !ok {
		return RespondError(CodeInvalidWorkerToken), nil
	}
	key := objstore.Key(claims.UserID, in.GameID, in.VersionID)
	if upload.UserID != claims.UserID || upload.R2Key != key || upload.VersionID != in.VersionID {
		return RespondError(CodeInvalidWorkerToken), nil
	}
	if upload.DeviceID != "" && upload.DeviceID != in.DeviceID {
		return RespondError(CodeInvalidWorkerToken), nil
	}

	size, err := h.broker.Head(ctx, key)
	if err != nil {
		if errors.Is(err, objstore.ErrObjectMissing) {
			return RespondError(CodeUploadMissing), nil
		}
		h.log.Error("head check failed", "user_id", claims.UserID, "key", key, "err", err)
		return RespondError(CodeInternal), nil
	}
	if size != in.SizeBytes {
		return RespondError(CodeSizeMismatch), nil
	}

	entry := model.SaveVersionEntry{
		VersionID:  in.VersionID,
		GameID:     in.GameID,
		SizeBytes:  in.SizeBytes,
		SHA256:     in.SHA256,
		FileList:   in.FileList,
		EmulatorID: in.EmulatorID,
		DeviceID:   in.DeviceID,
		Timestamp:  h.now().Unix(),
	}
	if err := h.saves.PutVersion(ctx, claims.UserID, entry); err != nil {
		h.log.Error("metadata write failed", "user_id", claims.UserID, "version_id", in.VersionID, "err", err)
		switch {
		case errors.Is(err, store.ErrCorrupted):
			return RespondError(CodeMetadataCorrupted), nil
		case errors.Is(err, store.ErrLoadFailed):
			return RespondError(CodeMetadataLoad), nil
		default:
			return RespondError(CodeMetadataSave), nil
		}
	}

	h.touchDevice(ctx, claims, in.DeviceID)
	return RespondJSON(http.StatusOK, map[string]any{"ok": true}), nil
}

type downloadRequest struct {
	GameID    string `json:"game_id"`
	VersionID string `json:"version_id"`
}

// DownloadURL issues a presigned GET for a recorded version, after
// confirming the object is still in the bucket.
func (h *SaveHandler) DownloadURL(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, ok := Authenticate(req, h.tokens)
	if !ok {
		return RespondError(CodeUnauthorized), nil
	}

	var in downloadRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return RespondError(CodeInvalidJSON), nil
	}
	if !validate.ID(in.GameID) || !validate.ID(in.VersionID) {
		return RespondError(CodeInvalidPayload), nil
	}

	version, err := h.saves.FindVersion(ctx, claims.UserID, in.GameID, in.VersionID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return RespondError(CodeVersionNotFound), nil
		case errors.Is(err, store.ErrCorrupted):
			h.log.Error("metadata corrupted", "user_id", claims.UserID, "err", err)
			return RespondError(CodeMetadataCorrupted), nil
		default:
			h.log.Error("metadata load failed", "user_id", claims.UserID, "err", err)
			return RespondError(CodeMetadataLoad), nil
		}
	}

	key := objstore.Key(claims.UserID, in.GameID, in.VersionID)
	if _, err := h.broker.Head(ctx, key); err != nil {
		if errors.Is(err, objstore.ErrObjectMissing) {
			return RespondError(CodeObjectMissing), nil
		}
		h.log.Error("head check failed", "user_id", claims.UserID, "key", key, "err", err)
		return RespondError(CodeInternal), nil
	}

	downloadURL, err := h.broker.PresignGet(ctx, key)
	if err != nil {
		h.log.Error("presign get failed", "user_id", claims.UserID, "key", key, "err", err)
		return RespondError(CodePresignFailed), nil
	}

	// Download tracking is best-effort; the URL is already issued.
	now := h.now().Unix()
	if err := h.downloads.Record(ctx, model.DownloadLogEntry{
		UserID:    claims.UserID,
		SortKey:   fmt.Sprintf("%d#%s#%s", now, in.GameID, in.VersionID),
		GameID:    in.GameID,
		VersionID: in.VersionID,
		DeviceID:  claims.DeviceID,
		Timestamp: now,
	}); err != nil {
		h.log.Warn("download log write failed", "user_id", claims.UserID, "err", err)
	}

	h.touchDevice(ctx, claims, "")

	resp := map[string]any{
		"ok":           true,
		"download_url": downloadURL,
		"r2_key":       key,
		"version_id":   version.VersionID,
		"game_id":      version.GameID,
		"size_bytes":   version.SizeBytes,
		"sha256":       version.SHA256,
		"file_list":    version.FileList,
		"timestamp":    version.Timestamp,
	}
	if version.EmulatorID != "" {
		resp["emulator_id"] = version.EmulatorID
	}
	return RespondJSON(http.StatusOK, resp), nil
}

type listRequest struct {
	GameID string `json:"game_id"`
}

// List returns the recorded versions for one game, newest first.
func (h *SaveHandler) List(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, ok := Authenticate(req, h.tokens)
	if !ok {
		return RespondError(CodeUnauthorized), nil
	}

	var in listRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return RespondError(CodeInvalidJSON), nil
	}
	if !validate.ID(in.GameID) {
		return RespondError(CodeInvalidPayload), nil
	}

	meta, err := h.saves.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrCorrupted) {
			h.log.Error("metadata corrupted", "user_id", claims.UserID, "err", err)
			return RespondError(CodeMetadataCorrupted), nil
		}
		h.log.Error("metadata load failed", "user_id", claims.UserID, "err", err)
		return RespondError(CodeMetadataLoad), nil
	}

	versions := []model.SaveVersionEntry{}
	for _, v := range meta.Versions {
		if v.GameID == in.GameID {
			versions = append(versions, v)
		}
	}

	h.touchDevice(ctx, claims, "")
	return RespondJSON(http.StatusOK, map[string]any{
		"ok":       true,
		"game_id":  in.GameID,
		"versions": versions,
	}), nil
}

// touchDevice refreshes last_seen for the device attached to this request:
// the payload's device id when given, else the session's. Best-effort.
func (h *SaveHandler) touchDevice(ctx context.Context, claims *token.SessionClaims, payloadDeviceID string) {
	deviceID := payloadDeviceID
	if deviceID == "" {
		deviceID = claims.DeviceID
	}
	if deviceID == "" {
		return
	}
	if err := h.devices.Touch(ctx, claims.UserID, deviceID); err != nil {
		h.log.Warn("device touch failed", "user_id", claims.UserID, "device_id", deviceID, "err", err)
	}
}
