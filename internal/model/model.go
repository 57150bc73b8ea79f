package model

// UserAccount is the durable account record, keyed by user ID with a
// secondary email index maintained alongside it.
type UserAccount struct {
	UserID       string `json:"user_id" dynamodbav:"user_id"`
	Email        string `json:"email" dynamodbav:"email"`
	PasswordHash string `json:"-" dynamodbav:"password_hash"`
	CreatedAt    int64  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    int64  `json:"updated_at" dynamodbav:"updated_at"`
}

// EmailIndexEntry maps a normalized email to its user ID.
type EmailIndexEntry struct {
	Email  string `dynamodbav:"email"`
	UserID string `dynamodbav:"user_id"`
}

// DeviceRecord is one known client device inside a user's device list.
type DeviceRecord struct {
	DeviceID   string `json:"device_id" dynamodbav:"device_id"`
	Platform   string `json:"platform" dynamodbav:"platform"`
	DeviceName string `json:"device_name" dynamodbav:"device_name"`
	LastSeen   int64  `json:"last_seen" dynamodbav:"last_seen"`
}

// DevicesEntry is the whole per-user device document.
type DevicesEntry struct {
	UserID    string         `json:"user_id" dynamodbav:"user_id"`
	Devices   []DeviceRecord `json:"devices" dynamodbav:"devices"`
	UpdatedAt int64          `json:"updated_at" dynamodbav:"updated_at"`
}

// SaveVersionEntry describes one packaged save upload. The archive bytes
// themselves live in the object store under the canonical key.
type SaveVersionEntry struct {
	VersionID  string   `json:"version_id" dynamodbav:"version_id"`
	GameID     string   `json:"game_id" dynamodbav:"game_id"`
	SizeBytes  int64    `json:"size_bytes" dynamodbav:"size_bytes"`
	SHA256     string   `json:"sha256" dynamodbav:"sha256"`
	FileList   []string `json:"file_list" dynamodbav:"file_list"`
	EmulatorID string   `json:"emulator_id,omitempty" dynamodbav:"emulator_id,omitempty"`
	DeviceID   string   `json:"device_id,omitempty" dynamodbav:"device_id,omitempty"`
	Timestamp  int64    `json:"timestamp" dynamodbav:"timestamp"`
}

// UserSaveMetadata is the whole per-user save-version document.
// Versions are kept sorted descending by Timestamp. DocVersion is the
// optimistic-concurrency counter for conditional writes.
type UserSaveMetadata struct {
	UserID     string             `json:"user_id" dynamodbav:"user_id"`
	Versions   []SaveVersionEntry `json:"versions" dynamodbav:"versions"`
	DocVersion int64              `json:"-" dynamodbav:"doc_version"`
}

// DownloadLogEntry records one issued download URL, best-effort.
type DownloadLogEntry struct {
	UserID    string `dynamodbav:"user_id"`
	SortKey   string `dynamodbav:"sk"` // "<ts>#<game_id>#<version_id>"
	GameID    string `dynamodbav:"game_id"`
	VersionID string `dynamodbav:"version_id"`
	DeviceID  string `dynamodbav:"device_id,omitempty"`
	Timestamp int64  `dynamodbav:"ts"`
}
