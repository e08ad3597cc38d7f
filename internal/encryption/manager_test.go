package encryption

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-service/internal/config"
)

// fakeKMS wraps data keys by XOR with a fixed byte so Decrypt can reverse it.
type fakeKMS struct {
	generated int
	decrypted int
}

func (f *fakeKMS) GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	f.generated++
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &kms.GenerateDataKeyOutput{Plaintext: key, CiphertextBlob: xor(key), KeyId: in.KeyId}, nil
}

func (f *fakeKMS) Decrypt(ctx context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.decrypted++
	return &kms.DecryptOutput{Plaintext: xor(in.CiphertextBlob)}, nil
}

func xor(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ 0x5a
	}
	return out
}

func localKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestSealAndOpenFieldsLocal(t *testing.T) {
	ctx := context.Background()
	cfg := config.KMSConfig{LocalMasterKey: localKey(t)}
	em, err := NewEncryptionManager(cfg, nil)
	require.NoError(t, err)

	sealed, wrapped, err := em.SealFields(ctx, "request-1", "alice@example.com", "", "+15550100")
	require.NoError(t, err)
	require.Len(t, sealed, 3)
	assert.NotEqual(t, "alice@example.com", sealed[0])
	assert.Empty(t, sealed[1])
	assert.Contains(t, wrapped, localKeyPrefix)

	// a second manager with the same master key and an empty cache can still open
	other, err := NewEncryptionManager(cfg, nil)
	require.NoError(t, err)
	opened, err := other.OpenFields(ctx, wrapped, "request-1", sealed...)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com", "", "+15550100"}, opened)
}

func TestOpenFieldsRejectsWrongAssociatedData(t *testing.T) {
	ctx := context.Background()
	em, err := NewEncryptionManager(config.KMSConfig{LocalMasterKey: localKey(t)}, nil)
	require.NoError(t, err)

	sealed, wrapped, err := em.SealFields(ctx, "request-1", "secret")
	require.NoError(t, err)

	_, err = em.OpenFields(ctx, wrapped, "request-2", sealed...)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSealAndOpenFieldsWithKMS(t *testing.T) {
	ctx := context.Background()
	fake := &fakeKMS{}
	em, err := NewEncryptionManager(config.KMSConfig{Enabled: true, KeyID: "alias/social"}, fake)
	require.NoError(t, err)

	sealed, wrapped, err := em.SealFields(ctx, "request-1", "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.generated)

	em.ClearCache()
	opened, err := em.OpenFields(ctx, wrapped, "request-1", sealed...)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", opened[0])
	assert.Equal(t, 1, fake.decrypted)

	_, err = em.OpenFields(ctx, wrapped, "request-1", sealed...)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.decrypted, "unwrapped key should be cached")
}

func TestNewEncryptionManagerRejectsShortLocalKey(t *testing.T) {
	_, err := NewEncryptionManager(config.KMSConfig{LocalMasterKey: base64.StdEncoding.EncodeToString([]byte("short"))}, nil)
	assert.Error(t, err)
}
