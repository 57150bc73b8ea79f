package store

import (
	"context"
	"sync"
	"time"

	"github.com/savesync-app/backend/internal/model"
)

// In-memory store implementations for handler tests. They honor the same
// invariants as the DynamoDB stores (email uniqueness, device-id
// uniqueness, version replacement, sort order).

// MemoryUserStore is an in-memory UserStore.
type MemoryUserStore struct {
	mu      sync.Mutex
	byID    map[string]model.UserAccount
	byEmail map[string]string
}

// NewMemoryUserStore returns an empty in-memory UserStore.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]model.UserAccount),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryUserStore) Create(_ context.Context, account *model.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[account.Email]; ok {
		return ErrEmailTaken
	}
	s.byID[account.UserID] = *account
	s.byEmail[account.Email] = account.UserID
	return nil
}

func (s *MemoryUserStore) Get(_ context.Context, userID string) (*model.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.byID[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &account, nil
}

func (s *MemoryUserStore) GetByEmail(_ context.Context, email string) (*model.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	account := s.byID[id]
	return &account, nil
}

// MemoryDeviceStore is an in-memory DeviceStore.
type MemoryDeviceStore struct {
	mu      sync.Mutex
	entries map[string]*model.DevicesEntry
	now     func() time.Time
}

// NewMemoryDeviceStore returns an empty in-memory DeviceStore.
func NewMemoryDeviceStore() *MemoryDeviceStore {
	return &MemoryDeviceStore{entries: make(map[string]*model.DevicesEntry), now: time.Now}
}

func (s *MemoryDeviceStore) Upsert(_ context.Context, userID string, rec model.DeviceRecord) (*model.DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[userID]
	if !ok {
		entry = &model.DevicesEntry{UserID: userID}
		s.entries[userID] = entry
	}
	rec.LastSeen = s.now().Unix()
	for i := range entry.Devices {
		if entry.Devices[i].DeviceID == rec.DeviceID {
			entry.Devices[i] = rec
			return &rec, nil
		}
	}
	entry.Devices = append(entry.Devices, rec)
	return &rec, nil
}

func (s *MemoryDeviceStore) List(_ context.Context, userID string) ([]model.DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[userID]
	if !ok {
		return []model.DeviceRecord{}, nil
	}
	out := make([]model.DeviceRecord, len(entry.Devices))
	copy(out, entry.Devices)
	return out, nil
}

func (s *MemoryDeviceStore) Touch(_ context.Context, userID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[userID]
	if !ok {
		entry = &model.DevicesEntry{UserID: userID}
		s.entries[userID] = entry
	}
	now := s.now().Unix()
	for i := range entry.Devices {
		if entry.Devices[i].DeviceID == deviceID {
			entry.Devices[i].LastSeen = now
			return nil
		}
	}
	entry.Devices = append(entry.Devices, model.DeviceRecord{
		DeviceID:   deviceID,
		Platform:   "unknown",
		DeviceName: "Unknown Device",
		LastSeen:   now,
	})
	return nil
}

func (s *MemoryDeviceStore) Remove(_ context.Context, userID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[userID]
	if !ok {
		return ErrNotFound
	}
	for i, d := range entry.Devices {
		if d.DeviceID == deviceID {
			entry.Devices = append(entry.Devices[:i], entry.Devices[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// MemorySaveStore is an in-memory SaveStore.
type MemorySaveStore struct {
	mu    sync.Mutex
	metas map[string]*model.UserSaveMetadata
}

// NewMemorySaveStore returns an empty in-memory SaveStore.
func NewMemorySaveStore() *MemorySaveStore {
	return &MemorySaveStore{metas: make(map[string]*model.UserSaveMetadata)}
}

func (s *MemorySaveStore) Get(_ context.Context, userID string) (*model.UserSaveMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.metas[userID]
	if !ok {
		return &model.UserSaveMetadata{UserID: userID}, nil
	}
	cp := *meta
	cp.Versions = make([]model.SaveVersionEntry, len(meta.Versions))
	copy(cp.Versions, meta.Versions)
	return &cp, nil
}

func (s *MemorySaveStore) PutVersion(_ context.Context, userID string, entry model.SaveVersionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.metas[userID]
	if !ok {
		meta = &model.UserSaveMetadata{UserID: userID}
		s.metas[userID] = meta
	}
	MergeVersion(meta, entry)
	meta.DocVersion++
	return nil
}

func (s *MemorySaveStore) FindVersion(_ context.Context, userID, gameID, versionID string) (*model.SaveVersionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.metas[userID]
	if !ok {
		return nil, ErrNotFound
	}
	for i := range meta.Versions {
		v := meta.Versions[i]
		if v.GameID == gameID && v.VersionID == versionID {
			return &v, nil
		}
	}
	return nil, ErrNotFound
}

// MemoryDownloadLog is an in-memory DownloadLog.
type MemoryDownloadLog struct {
	mu      sync.Mutex
	Entries []model.DownloadLogEntry
	// Fail forces Record to error, for best-effort tests.
	Fail error
}

// NewMemoryDownloadLog returns an empty in-memory DownloadLog.
func NewMemoryDownloadLog() *MemoryDownloadLog {
	return &MemoryDownloadLog{}
}

func (l *MemoryDownloadLog) Record(_ context.Context, entry model.DownloadLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Fail != nil {
		return l.Fail
	}
	l.Entries = append(l.Entries, entry)
	return nil
}
