// Package token issues and verifies the two signed, expiring claim types the
// broker hands out: session tokens (identify a user and optionally a device)
// and upload tokens (bind a presigned PUT to one metadata record).
//
// Both run over the same HS256 primitive with separate secret namespaces, so
// a leaked upload token can never be replayed as a session token. Each
// namespace verifies against an ordered key list: the first key signs new
// tokens, every key is accepted on verify. Putting the outgoing key second
// lets operators rotate secrets without invalidating tokens issued just
// before the rotation.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionTTL is the lifetime of a session token.
	SessionTTL = 7 * 24 * time.Hour
	// UploadTTL is the lifetime of an upload token. It only needs to cover
	// the presigned PUT plus the notify call that follows it.
	UploadTTL = 60 * time.Second

	useSession = "session"
	useUpload  = "upload"
)

// Keyring is an ordered list of HMAC secrets. Keys[0] signs; all verify.
type Keyring [][]byte

// NewKeyring builds a Keyring from the active secret and any number of
// still-accepted rotated secrets. Empty secrets are dropped.
func NewKeyring(active string, rotated ...string) Keyring {
	var kr Keyring
	if active != "" {
		kr = append(kr, []byte(active))
	}
	for _, s := range rotated {
		if s != "" {
			kr = append(kr, []byte(s))
		}
	}
	return kr
}

// SessionClaims is the payload of a session token.
type SessionClaims struct {
	UserID   string `json:"uid"`
	DeviceID string `json:"did,omitempty"`
	Use      string `json:"tuse"`
	jwt.RegisteredClaims
}

// UploadClaims is the payload of an upload token. R2Key pins the object key
// the presigned PUT was issued for; notify-upload recomputes the key from
// its own payload and requires equality.
type UploadClaims struct {
	UserID    string `json:"uid"`
	DeviceID  string `json:"did,omitempty"`
	R2Key     string `json:"r2_key"`
	VersionID string `json:"version_id"`
	Use       string `json:"tuse"`
	jwt.RegisteredClaims
}

// Service signs and verifies both claim types.
type Service struct {
	session Keyring
	upload  Keyring
	now     func() time.Time
}

// NewService builds a Service from the two secret namespaces.
func NewService(session, upload Keyring) *Service {
	return &Service{session: session, upload: upload, now: time.Now}
}

// IssueSession signs a 7-day session token for the user (and device, if any).
func (s *Service) IssueSession(userID, deviceID string) (string, int64, error) {
	exp := s.now().Add(SessionTTL)
	claims := SessionClaims{
		UserID:   userID,
		DeviceID: deviceID,
		Use:      useSession,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(s.now()),
		},
	}
	tok, err := s.sign(claims, s.session)
	return tok, exp.Unix(), err
}

// VerifySession parses and checks a session token. Any failure — malformed
// token, wrong algorithm, bad signature on every key, missing fields,
// expiry — yields (nil, false); there is nothing for a caller to retry.
func (s *Service) VerifySession(tok string) (*SessionClaims, bool) {
	var claims SessionClaims
	if !s.verify(tok, &claims, s.session) {
		return nil, false
	}
	if claims.Use != useSession || claims.UserID == "" {
		return nil, false
	}
	return &claims, true
}

// IssueUpload signs a short-lived upload token pinned to one object key and
// version id.
func (s *Service) IssueUpload(userID, deviceID, r2Key, versionID string) (string, int64, error) {
	exp := s.now().Add(UploadTTL)
	claims := UploadClaims{
		UserID:    userID,
		DeviceID:  deviceID,
		R2Key:     r2Key,
		VersionID: versionID,
		Use:       useUpload,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(s.now()),
		},
	}
	tok, err := s.sign(claims, s.upload)
	return tok, exp.Unix(), err
}

// VerifyUpload parses and checks an upload token; (nil, false) on any failure.
func (s *Service) VerifyUpload(tok string) (*UploadClaims, bool) {
	var claims UploadClaims
	if !s.verify(tok, &claims, s.upload) {
		return nil, false
	}
	if claims.Use != useUpload || claims.UserID == "" || claims.R2Key == "" || claims.VersionID == "" {
		return nil, false
	}
	return &claims, true
}

func (s *Service) sign(claims jwt.Claims, kr Keyring) (string, error) {
	if len(kr) == 0 {
		return "", jwt.ErrInvalidKey
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(kr[0])
}

// verify tries each key in order. claims must be a fresh pointer per call;
// it is only trusted when a parse fully succeeds.
func (s *Service) verify(tok string, claims jwt.Claims, kr Keyring) bool {
	for _, key := range kr {
		key := key
		parsed, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
			return key, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(s.now),
		)
		if err == nil && parsed.Valid {
			return true
		}
	}
	return false
}
