package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	"social-service/internal/config"
	"social-service/internal/util"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	ErrUnknownPepper       = errors.New("pepper version not found")
)

const algorithm = "argon2id"

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Pepper struct {
	Value   string
	Version int
}

// Hasher produces self-describing argon2id password hashes of the form
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$pv=<pepper version>$<salt>$<hash>.
type Hasher struct {
	params        Argon2Params
	currentPepper *Pepper
	oldPeppers    map[int]*Pepper
	dummyHash     string
	mu            sync.RWMutex
}

func NewHasher(cfg config.HashingConfig) (*Hasher, error) {
	h := &Hasher{
		params: Argon2Params{
			Memory:      uint32(cfg.Argon2MemoryCost),
			Iterations:  uint32(cfg.Argon2TimeCost),
			Parallelism: uint8(cfg.Argon2Parallelism),
			SaltLength:  16,
			KeyLength:   32,
		},
		oldPeppers: make(map[int]*Pepper),
	}

	pepper := cfg.Pepper
	if pepper == "" {
		generated, err := randomPepper()
		if err != nil {
			return nil, err
		}
		pepper = generated
		util.Warn("PASSWORD_PEPPER not set, using an ephemeral pepper; stored hashes will not survive a restart")
	}
	h.currentPepper = &Pepper{Value: pepper, Version: cfg.PepperVersion}

	for _, entry := range cfg.PreviousPeppers {
		version, value, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("invalid previous pepper entry, want version:value")
		}
		v, err := strconv.Atoi(version)
		if err != nil {
			return nil, fmt.Errorf("invalid previous pepper version %q: %w", version, err)
		}
		h.oldPeppers[v] = &Pepper{Value: value, Version: v}
	}

	dummy, err := h.HashPassword("dummy-password-for-timing")
	if err != nil {
		return nil, err
	}
	h.dummyHash = dummy

	util.Info("Password hasher ready",
		util.Int("pepper_version", h.currentPepper.Version),
		util.Int("previous_peppers", len(h.oldPeppers)))
	return h, nil
}

func randomPepper() (string, error) {
	pepperBytes := make([]byte, 32)
	if _, err := rand.Read(pepperBytes); err != nil {
		return "", fmt.Errorf("failed to generate pepper: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(pepperBytes), nil
}

func (h *Hasher) HashPassword(password string) (string, error) {
	h.mu.RLock()
	pepper := h.currentPepper
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(password+pepper.Value),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$pv=%d$%s$%s",
		algorithm,
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		pepper.Version,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword recomputes the hash with the parameters and pepper recorded in encoded.
func (h *Hasher) VerifyPassword(password, encoded string) (bool, error) {
	decoded, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	pepper, err := h.getPepper(decoded.pepperVersion)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password+pepper),
		decoded.salt,
		decoded.params.Iterations,
		decoded.params.Memory,
		decoded.params.Parallelism,
		uint32(len(decoded.hash)),
	)

	return subtle.ConstantTimeCompare(computed, decoded.hash) == 1, nil
}

// VerifyDummy burns the same work as a real verification so that unknown
// accounts are not distinguishable by response time.
func (h *Hasher) VerifyDummy(password string) {
	_, _ = h.VerifyPassword(password, h.dummyHash)
}

// NeedsRehash reports whether encoded was produced with an older pepper or weaker parameters.
func (h *Hasher) NeedsRehash(encoded string) bool {
	decoded, err := decodeHash(encoded)
	if err != nil {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return decoded.pepperVersion != h.currentPepper.Version ||
		decoded.params.Memory < h.params.Memory ||
		decoded.params.Iterations < h.params.Iterations
}

func (h *Hasher) getPepper(version int) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.currentPepper != nil && h.currentPepper.Version == version {
		return h.currentPepper.Value, nil
	}
	if pepper, ok := h.oldPeppers[version]; ok {
		return pepper.Value, nil
	}
	return "", ErrUnknownPepper
}

type decodedHash struct {
	params        Argon2Params
	pepperVersion int
	salt          []byte
	hash          []byte
}

func decodeHash(encoded string) (*decodedHash, error) {
	parts := strings.Split(encoded, "$")
	// "", argon2id, v=, m=..., pv=, salt, hash
	if len(parts) != 7 || parts[1] != algorithm {
		return nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return nil, ErrIncompatibleVersion
	}

	d := &decodedHash{}
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.params.Memory, &d.params.Iterations, &parallelism); err != nil {
		return nil, ErrInvalidHash
	}
	d.params.Parallelism = parallelism

	if _, err := fmt.Sscanf(parts[4], "pv=%d", &d.pepperVersion); err != nil {
		return nil, ErrInvalidHash
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, ErrInvalidHash
	}
	if d.hash, err = base64.RawStdEncoding.DecodeString(parts[6]); err != nil || len(d.hash) == 0 {
		return nil, ErrInvalidHash
	}
	return d, nil
}
