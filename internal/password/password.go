// Package password hashes and verifies account credentials. The primary
// strategy is argon2id; a PBKDF2-SHA256 strategy exists as a fallback for
// environments where the memory-hard hash cannot run (tight memory limits).
//
// Which strategy is active is decided once, at construction, by probing the
// primary hash — not lazily per call — so the failure mode is deterministic
// and visible at startup. Encoded hashes are self-describing, so Verify
// dispatches on the stored prefix and never needs to know which strategy
// produced a hash. A hash with the argon2id prefix that fails argon2id
// verification is rejected outright; it never falls through to the fallback.
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	argonPrefix  = "argon2id$"
	pbkdf2Prefix = "sspbkdf2$"

	saltLen = 16

	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32

	pbkdf2Iterations = 100000
	pbkdf2KeyLen     = 32
)

// Hasher hashes plaintext credentials into self-describing encoded strings
// and verifies plaintexts against them.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) bool
}

// New returns a Hasher. It probes the argon2id strategy once; if the probe
// fails (or panics, e.g. the allocator refuses 64 MiB), the PBKDF2 strategy
// is selected instead. The returned name identifies the active strategy.
func New() (Hasher, string) {
	if probeArgon2() {
		return argonHasher{}, "argon2id"
	}
	return pbkdf2Hasher{}, "pbkdf2-sha256"
}

func probeArgon2() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	h := argon2.IDKey([]byte("probe"), []byte("0123456789abcdef"), argonTime, argonMemory, argonThreads, argonKeyLen)
	return len(h) == argonKeyLen
}

// Verify checks a plaintext against any encoded hash this package has ever
// produced, regardless of which strategy is currently active for Hash.
// Unknown prefixes fail closed.
func Verify(plain, encoded string) bool {
	switch {
	case strings.HasPrefix(encoded, argonPrefix):
		return verifyArgon2(plain, encoded)
	case strings.HasPrefix(encoded, pbkdf2Prefix):
		return verifyPBKDF2(plain, encoded)
	default:
		return false
	}
}

type argonHasher struct{}

// Hash encodes as argon2id$v=19$m=65536,t=3,p=4$<saltB64>$<hashB64>.
func (argonHasher) Hash(plain string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	h := argon2.IDKey([]byte(plain), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	enc := base64.RawStdEncoding
	return fmt.Sprintf("argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		enc.EncodeToString(salt), enc.EncodeToString(h)), nil
}

func (argonHasher) Verify(plain, encoded string) bool { return Verify(plain, encoded) }

func verifyArgon2(plain, encoded string) bool {
	memory, timeCost, threads, salt, want, err := parseArgon2(encoded)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(plain), salt, timeCost, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func parseArgon2(s string) (memory, timeCost uint32, threads uint8, salt, hash []byte, err error) {
	parts := strings.Split(s, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return 0, 0, 0, nil, nil, errors.New("invalid argon2id encoding")
	}
	ver, err := strconv.Atoi(strings.TrimPrefix(parts[1], "v="))
	if err != nil || ver != argon2.Version {
		return 0, 0, 0, nil, nil, errors.New("unsupported argon2 version")
	}
	for _, kv := range strings.Split(parts[2], ",") {
		pair := strings.SplitN(kv, "=", 2)
		if len(pair) != 2 {
			return 0, 0, 0, nil, nil, errors.New("invalid argon2 parameters")
		}
		v, perr := strconv.ParseUint(pair[1], 10, 32)
		if perr != nil {
			return 0, 0, 0, nil, nil, errors.New("invalid argon2 parameter value")
		}
		switch pair[0] {
		case "m":
			memory = uint32(v)
		case "t":
			timeCost = uint32(v)
		case "p":
			if v > 255 {
				return 0, 0, 0, nil, nil, errors.New("invalid argon2 parallelism")
			}
			threads = uint8(v)
		default:
			return 0, 0, 0, nil, nil, errors.New("unknown argon2 parameter")
		}
	}
	if memory == 0 || timeCost == 0 || threads == 0 {
		return 0, 0, 0, nil, nil, errors.New("missing argon2 parameters")
	}
	enc := base64.RawStdEncoding
	if salt, err = enc.DecodeString(parts[3]); err != nil {
		return 0, 0, 0, nil, nil, errors.New("invalid argon2 salt")
	}
	if hash, err = enc.DecodeString(parts[4]); err != nil || len(hash) < 16 {
		return 0, 0, 0, nil, nil, errors.New("invalid argon2 hash")
	}
	return memory, timeCost, threads, salt, hash, nil
}

type pbkdf2Hasher struct{}

// Hash encodes as sspbkdf2$<iterations>$<saltB64>$<hashB64>.
func (pbkdf2Hasher) Hash(plain string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	h := pbkdf2.Key([]byte(plain), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	enc := base64.RawStdEncoding
	return fmt.Sprintf("%s%d$%s$%s", pbkdf2Prefix, pbkdf2Iterations,
		enc.EncodeToString(salt), enc.EncodeToString(h)), nil
}

func (pbkdf2Hasher) Verify(plain, encoded string) bool { return Verify(plain, encoded) }

func verifyPBKDF2(plain, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 {
		return false
	}
	iters, err := strconv.Atoi(parts[1])
	if err != nil || iters < 1 {
		return false
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := enc.DecodeString(parts[3])
	if err != nil || len(want) < 16 {
		return false
	}
	got := pbkdf2.Key([]byte(plain), salt, iters, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
