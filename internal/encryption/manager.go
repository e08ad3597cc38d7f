package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"social-service/internal/config"
	"social-service/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const localKeyPrefix = "local:"

// KMSAPI is the subset of the KMS client used for envelope encryption.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// EncryptionManager seals sensitive fields with a per-record data key. The data
// key is wrapped by KMS, or by a local master key when KMS is disabled.
type EncryptionManager struct {
	kmsClient KMSAPI
	keyID     string
	masterKey []byte
	keyCache  sync.Map // wrapped DEK -> plaintext DEK
}

type DataKey struct {
	Plaintext []byte
	Wrapped   string
}

// NewKMSClient builds a KMS client from the default AWS credential chain.
func NewKMSClient(ctx context.Context, cfg config.KMSConfig) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// NewEncryptionManager uses kmsClient when non-nil, otherwise the local master key.
func NewEncryptionManager(cfg config.KMSConfig, kmsClient KMSAPI) (*EncryptionManager, error) {
	em := &EncryptionManager{kmsClient: kmsClient, keyID: cfg.KeyID}
	if kmsClient != nil {
		util.Info("Encryption manager using KMS", util.String("key_id", cfg.KeyID))
		return em, nil
	}

	if cfg.LocalMasterKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.LocalMasterKey)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_LOCAL_KEY must be 32 bytes, base64 encoded")
		}
		em.masterKey = key
	} else {
		em.masterKey = make([]byte, 32)
		if _, err := rand.Read(em.masterKey); err != nil {
			return nil, fmt.Errorf("failed to generate local master key: %w", err)
		}
		util.Warn("ENCRYPTION_LOCAL_KEY not set, sealed fields will not survive a restart")
	}
	return em, nil
}

// GenerateDataKey returns a fresh AES-256 key and its wrapped form.
func (em *EncryptionManager) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	if em.kmsClient != nil {
		result, err := em.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
			KeyId:   aws.String(em.keyID),
			KeySpec: types.DataKeySpecAes256,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate data key: %w", err)
		}
		return &DataKey{
			Plaintext: result.Plaintext,
			Wrapped:   base64.StdEncoding.EncodeToString(result.CiphertextBlob),
		}, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	wrapped, err := seal(em.masterKey, key, nil)
	if err != nil {
		return nil, err
	}
	return &DataKey{Plaintext: key, Wrapped: localKeyPrefix + wrapped}, nil
}

// SealFields encrypts every non-empty value under one new data key. aad binds
// the ciphertexts to the owning record.
func (em *EncryptionManager) SealFields(ctx context.Context, aad string, values ...string) ([]string, string, error) {
	dataKey, err := em.GenerateDataKey(ctx)
	if err != nil {
		return nil, "", err
	}

	out := make([]string, len(values))
	for i, v := range values {
		if v == "" {
			continue
		}
		if out[i], err = seal(dataKey.Plaintext, []byte(v), []byte(aad)); err != nil {
			return nil, "", err
		}
	}

	em.keyCache.Store(dataKey.Wrapped, dataKey.Plaintext)
	return out, dataKey.Wrapped, nil
}

// OpenFields reverses SealFields. Empty values stay empty.
func (em *EncryptionManager) OpenFields(ctx context.Context, wrappedKey, aad string, sealed ...string) ([]string, error) {
	key, err := em.unwrap(ctx, wrappedKey)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(sealed))
	for i, v := range sealed {
		if v == "" {
			continue
		}
		plaintext, err := open(key, v, []byte(aad))
		if err != nil {
			return nil, err
		}
		out[i] = string(plaintext)
	}
	return out, nil
}

func (em *EncryptionManager) unwrap(ctx context.Context, wrapped string) ([]byte, error) {
	if cached, ok := em.keyCache.Load(wrapped); ok {
		return cached.([]byte), nil
	}

	var plaintext []byte
	if local, ok := strings.CutPrefix(wrapped, localKeyPrefix); ok {
		if em.masterKey == nil {
			return nil, fmt.Errorf("%w: local key without local master key", ErrDecryptionFailed)
		}
		key, err := open(em.masterKey, local, nil)
		if err != nil {
			return nil, err
		}
		plaintext = key
	} else {
		if em.kmsClient == nil {
			return nil, fmt.Errorf("%w: KMS key without KMS client", ErrDecryptionFailed)
		}
		blob, err := base64.StdEncoding.DecodeString(wrapped)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
		}
		result, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		plaintext = result.Plaintext
	}

	em.keyCache.Store(wrapped, plaintext)
	return plaintext, nil
}

// ClearCache drops cached plaintext data keys.
func (em *EncryptionManager) ClearCache() {
	em.keyCache.Range(func(key, _ interface{}) bool {
		em.keyCache.Delete(key)
		return true
	})
}

func seal(key, plaintext, aad []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, aad)), nil
}

func open(key []byte, encoded string, aad []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
