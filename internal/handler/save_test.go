package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/savesync-app/backend/internal/model"
	"github.com/savesync-app/backend/internal/objstore"
	"github.com/savesync-app/backend/internal/store"
	"github.com/savesync-app/backend/internal/token"
	"github.com/savesync-app/backend/internal/validate"
)

// fakeBroker is an in-memory ObjectBroker: objects is the bucket contents
// keyed by object key.
type fakeBroker struct {
	objects map[string]int64
	putErr  error
	getErr  error
	headErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{objects: make(map[string]int64)}
}

func (b *fakeBroker) PresignPut(_ context.Context, key string) (string, error) {
	if b.putErr != nil {
		return "", b.putErr
	}
	return "https://bucket.example/put/" + key, nil
}

func (b *fakeBroker) PresignGet(_ context.Context, key string) (string, error) {
	if b.getErr != nil {
		return "", b.getErr
	}
	return "https://bucket.example/get/" + key, nil
}

func (b *fakeBroker) Head(_ context.Context, key string) (int64, error) {
	if b.headErr != nil {
		return 0, b.headErr
	}
	size, ok := b.objects[key]
	if !ok {
		return 0, objstore.ErrObjectMissing
	}
	return size, nil
}

type saveEnv struct {
	h         *SaveHandler
	saves     *store.MemorySaveStore
	devices   *store.MemoryDeviceStore
	downloads *store.MemoryDownloadLog
	broker    *fakeBroker
	tokens    *token.Service
}

func newSaveEnv() *saveEnv {
	env := &saveEnv{
		saves:     store.NewMemorySaveStore(),
		devices:   store.NewMemoryDeviceStore(),
		downloads: store.NewMemoryDownloadLog(),
		broker:    newFakeBroker(),
		tokens:    testTokens(),
	}
	env.h = NewSaveHandler(env.saves, env.devices, env.downloads, env.broker, env.tokens, nil, testLogger())
	return env
}

const testSHA = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func uploadBody(gameID, versionID string, size int64) map[string]any {
	return map[string]any{
		"game_id":    gameID,
		"version_id": versionID,
		"size_bytes": size,
		"sha256":     testSHA,
		"file_list":  []string{"saves/slot1.srm", "saves/slot1.rtc"},
	}
}

// uploadURLResponse mirrors the upload-url response body.
type uploadURLResponse struct {
	OK          bool   `json:"ok"`
	UploadURL   string `json:"upload_url"`
	R2Key       string `json:"r2_key"`
	VersionID   string `json:"version_id"`
	WorkerToken string `json:"worker_token"`
}

func TestUploadURL(t *testing.T) {
	env := newSaveEnv()
	ctx := context.Background()
	bearer := sessionFor(t, env.tokens, "user-1", "deck-01")

	resp, err := env.h.UploadURL(ctx, postJSON(t, uploadBody("zelda-botw", "v-001", 4096), bearer))
	if err != nil {
		t.Fatalf("UploadURL: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, resp.Body)
	}

	var out uploadURLResponse
	decodeBody(t, resp, &out)
	wantKey := objstore.Key("user-1", "zelda-botw", "v-001")
	if out.R2Key != wantKey {
		t.Errorf("r2_key = %q, want %q", out.R2Key, wantKey)
	}
	if !strings.Contains(out.UploadURL, wantKey) {
		t.Errorf("upload_url %q does not reference the key", out.UploadURL)
	}

	claims, ok := env.tokens.VerifyUpload(out.WorkerToken)
	if !ok {
		t.Fatal("worker token does not verify")
	}
	if claims.UserID != "user-1" || claims.R2Key != wantKey || claims.VersionID != "v-001" {
		t.Errorf("worker claims = %+v", claims)
	}

	// The session's device gets a last-seen stamp.
	recs, _ := env.devices.List(ctx, "user-1")
	if len(recs) != 1 || recs[0].DeviceID != "deck-01" || recs[0].LastSeen == 0 {
		t.Errorf("devices after upload-url = %+v", recs)
	}
}

func TestUploadURLRejectsBadPayloads(t *testing.T) {
	env := newSaveEnv()
	ctx := context.Background()
	bearer := sessionFor(t, env.tokens, "user-1", "")

	cases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"oversize archive", func(b map[string]any) { b["size_bytes"] = validate.MaxArchiveSize + 1 }},
		{"zero size", func(b map[string]any) { b["size_bytes"] = 0 }},
		{"bad game id", func(b map[string]any) { b["game_id"] = "has/slash" }},
		{"bad digest", func(b map[string]any) { b["sha256"] = "abc123" }},
		{"path traversal", func(b map[string]any) { b["file_list"] = []string{"../escape.srm"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := uploadBody("zelda-botw", "v-001", 4096)
			tc.mutate(body)
			resp, _ := env.h.UploadURL(ctx, postJSON(t, body, bearer))
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", resp.StatusCode, resp.Body)
			}
			if code := errCode(t, resp); code != CodeInvalidPayload {
				t.Errorf("code = %q", code)
			}
		})
	}
}

func TestNotifyUploadProtocol(t *testing.T) {
	env := newSaveEnv()
	ctx := context.Background()
	bearer := sessionFor(t, env.tokens, "user-1", "")

	issue := func(gameID, versionID string, size int64) (string, string) {
		resp, _ := env.h.UploadURL(ctx, postJSON(t, uploadBody(gameID, versionID, size), bearer))
		var out uploadURLResponse
		decodeBody(t, resp, &out)
		return out.WorkerToken, out.R2Key
	}

	workerToken, key := issue("zelda-botw", "v-001", 4096)

	notify := func(body map[string]any) (int, string) {
		resp, _ := env.h.NotifyUpload(ctx, postJSON(t, body, bearer))
		if resp.StatusCode == http.StatusOK {
			return resp.StatusCode, ""
		}
		return resp.StatusCode, errCode(t, resp)
	}

	body := uploadBody("zelda-botw", "v-001", 4096)
	body["worker_token"] = workerToken

	// Object not uploaded yet.
	if status, code := notify(body); status != http.StatusNotFound || code != CodeUploadMissing {
		t.Fatalf("before PUT: status %d code %q", status, code)
	}

	// Uploaded, but short.
	env.broker.objects[key] = 1000
	if status, code := notify(body); status != http.StatusBadRequest || code != CodeSizeMismatch {
		t.Fatalf("truncated object: status %d code %q", status, code)
	}

	env.broker.objects[key] = 4096
	if status, _ := notify(body); status != http.StatusOK {
		t.Fatalf("happy path status = %d", status)
	}

	got, err := env.saves.FindVersion(ctx, "user-1", "zelda-botw", "v-001")
	if err != nil {
		t.Fatalf("FindVersion after notify: %v", err)
	}
	if got.SizeBytes != 4096 || got.SHA256 != testSHA {
		t.Errorf("recorded entry = %+v", got)
	}
}

func TestNotifyUploadRejectsMismatchedToken(t *testing.T) {
	env := newSaveEnv()
	ctx := context.Background()
	bearer := sessionFor(t, env.tokens, "user-1", "")

	// Token issued for a different game's key.
	otherKey := objstore.Key("user-1", "metroid-dread", "v-001")
	workerToken, _, err := env.tokens.IssueUpload("user-1", "", otherKey, "v-001")
	if err != nil {
		t.Fatalf("IssueUpload: %v", err)
	}
	env.broker.objects[objstore.Key("user-1", "zelda-botw", "v-001")] = 4096

	body := uploadBody("zelda-botw", "v-001", 4096)
	body["worker_token"] = workerToken
	resp, _ := env.h.NotifyUpload(ctx, postJSON(t, body, bearer))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, body %s", resp.StatusCode, resp.Body)
	}
	if code := errCode(t, resp); code != CodeInvalidWorkerToken {
		t.Errorf("code = %q", code)
	}

	// A token for another user fails the same way even with a matching key.
	foreign, _, _ := env.tokens.IssueUpload("user-2", "", objstore.Key("user-1", "zelda-botw", "v-001"), "v-001")
	body["worker_token"] = foreign
	resp, _ = env.h.NotifyUpload(ctx, postJSON(t, body, bearer))
	if code := errCode(t, resp); code != CodeInvalidWorkerToken {
		t.Errorf("foreign token code = %q", code)
	}

	// Missing token.
	body["worker_token"] = ""
	resp, _ = env.h.NotifyUpload(ctx, postJSON(t, body, bearer))
	if code := errCode(t, resp); code != CodeInvalidWorkerToken {
		t.Errorf("empty token code = %q", code)
	}
}

func TestNotifyUploadReplacesVersion(t *testing.T) {
	env := newSaveEnv()
	ctx := context.Background()
	bearer := sessionFor(t, env.tokens, "user-1", "")

	base := time.Unix(1700000000, 0)
	env.h.now = func() time.Time { return base }

	put := func(versionID string, size int64) {
		resp, _ := env.h.UploadURL(ctx, postJSON(t, uploadBody("zelda-botw", versionID, size), bearer))
		var out uploadURLResponse
		decodeBody(t, resp, &out)
		env.broker.objects[out.R2Key] = size

		body := uploadBody("zelda-botw", versionID, size)
		body["worker_token"] = out.WorkerToken
		nresp, _ := env.h.NotifyUpload(ctx, postJSON(t, body, bearer))
		if nresp.StatusCode != http.StatusOK {
			panic(fmt.Sprintf("notify %s: %s", versionID, nresp.Body))
		}
	}

	put("v-001", 1000)
	base = base.Add(time.Minute)
	put("v-002", 2000)
	base = base.Add(time.Minute)
	put("v-001", 3000) // re-upload of the oldest version

	meta, err := env.saves.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(meta.Versions) != 2 {
		t.Fatalf("versions = %+v, want 2 entries", meta.Versions)
	}
	// Newest first: the re-uploaded v-001 carries the latest timestamp.
	if meta.Versions[0].VersionID != "v-001" || meta.Versions[0].SizeBytes != 3000 {
		t.Errorf("versions[0] = %+v", meta.Versions[0])
	}
	if meta.Versions[1].VersionID != "v-002" {
		t.Errorf("versions[1] = %+v", meta.Versions[1])
	}
}

func TestDownloadURL(t *testing.T) {
	env := newSaveEnv()
	ctx := context.Background()
	bearer := sessionFor(t, env.tokens, "user-1", "deck-01")

	// Unknown version.
	resp, _ := env.h.DownloadURL(ctx, postJSON(t, map[string]any{
		"game_id": "zelda-botw", "version_id": "v-404",
	}, bearer))
	if resp.StatusCode != http.StatusNotFound || errCode(t, resp) != CodeVersionNotFound {
		t.Fatalf("unknown version: status %d body %s", resp.StatusCode, resp.Body)
	}

	key := objstore.Key("user-1", "zelda-botw", "v-001")
	if err := env.saves.PutVersion(ctx, "user-1", model.SaveVersionEntry{
		VersionID: "v-001", GameID: "zelda-botw", SizeBytes: 4096,
		SHA256: testSHA, FileList: []string{"saves/slot1.srm"}, Timestamp: 1700000000,
	}); err != nil {
		t.Fatalf("seed version: %v", err)
	}

	// Metadata exists but the object is gone.
	resp, _ = env.h.DownloadURL(ctx, postJSON(t, map[string]any{
		"game_id": "zelda-botw", "version_id": "v-001",
	}, bearer))
	if resp.StatusCode != http.StatusNotFound || errCode(t, resp) != CodeObjectMissing {
		t.Fatalf("missing object: status %d body %s", resp.StatusCode, resp.Body)
	}

	env.broker.objects[key] = 4096
	resp, _ = env.h.DownloadURL(ctx, postJSON(t, map[string]any{
		"game_id": "zelda-botw", "version_id": "v-001",
	}, bearer))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, resp.Body)
	}
	var out struct {
		DownloadURL string   `json:"download_url"`
		R2Key       string   `json:"r2_key"`
		SizeBytes   int64    `json:"size_bytes"`
		SHA256      string   `json:"sha256"`
		FileList    []string `json:"file_list"`
	}
	decodeBody(t, resp, &out)
	if out.R2Key != key || out.SizeBytes != 4096 || out.SHA256 != testSHA {
		t.Errorf("response = %+v", out)
	}
	if !strings.Contains(out.DownloadURL, key) {
		t.Errorf("download_url %q does not reference the key", out.DownloadURL)
	}

	if len(env.downloads.Entries) != 1 {
		t.Fatalf("download log entries = %d", len(env.downloads.Entries))
	}
	logged := env.downloads.Entries[0]
	if logged.UserID != "user-1" || logged.GameID != "zelda-botw" || logged.DeviceID != "deck-01" {
		t.Errorf("logged entry = %+v", logged)
	}
}

func TestDownloadURLSurvivesLogFailure(t *testing.T) {
	env := newSaveEnv()
	ctx := context.Background()
	bearer := sessionFor(t, env.tokens, "user-1", "")

	env.downloads.Fail = fmt.Errorf("downloads table unavailable")
	key := objstore.Key("user-1", "zelda-botw", "v-001")
	env.broker.objects[key] = 4096
	if err := env.saves.PutVersion(ctx, "user-1", model.SaveVersionEntry{
		VersionID: "v-001", GameID: "zelda-botw", SizeBytes: 4096,
		SHA256: testSHA, Timestamp: 1700000000,
	}); err != nil {
		t.Fatalf("seed version: %v", err)
	}

	resp, _ := env.h.DownloadURL(ctx, postJSON(t, map[string]any{
		"game_id": "zelda-botw", "version_id": "v-001",
	}, bearer))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download must not fail on log write, status = %d", resp.StatusCode)
	}
}

func TestListFiltersByGame(t *testing.T) {
	env := newSaveEnv()
	ctx := context.Background()
	bearer := sessionFor(t, env.tokens, "user-1", "")

	seed := []model.SaveVersionEntry{
		{VersionID: "v-001", GameID: "zelda-botw", SizeBytes: 1, SHA256: testSHA, Timestamp: 100},
		{VersionID: "v-002", GameID: "zelda-botw", SizeBytes: 2, SHA256: testSHA, Timestamp: 200},
		{VersionID: "v-003", GameID: "metroid-dread", SizeBytes: 3, SHA256: testSHA, Timestamp: 300},
	}
	for _, e := range seed {
		if err := env.saves.PutVersion(ctx, "user-1", e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	resp, _ := env.h.List(ctx, postJSON(t, map[string]any{"game_id": "zelda-botw"}, bearer))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, resp.Body)
	}
	var out struct {
		Versions []model.SaveVersionEntry `json:"versions"`
	}
	decodeBody(t, resp, &out)
	if len(out.Versions) != 2 {
		t.Fatalf("versions = %+v", out.Versions)
	}
	if out.Versions[0].VersionID != "v-002" || out.Versions[1].VersionID != "v-001" {
		t.Errorf("not newest-first: %+v", out.Versions)
	}

	// No versions for this game yet: empty list, not an error.
	resp, _ = env.h.List(ctx, postJSON(t, map[string]any{"game_id": "pikmin-4"}, bearer))
	decodeBody(t, resp, &out)
	if resp.StatusCode != http.StatusOK || len(out.Versions) != 0 {
		t.Errorf("empty game: status %d versions %+v", resp.StatusCode, out.Versions)
	}
}
