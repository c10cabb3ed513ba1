package vault

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	v, err := New("test-vault-secret")
	require.NoError(t, err)

	for _, value := range []string{"0123456789", "12345678901", "a"} {
		sealed, err := v.Seal(value)
		require.NoError(t, err)
		assert.NotEqual(t, value, sealed)

		opened, err := v.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, value, opened)
	}
}

func TestSealProducesDistinctCiphertexts(t *testing.T) {
	v, err := New("test-vault-secret")
	require.NoError(t, err)

	first, err := v.Seal("0123456789")
	require.NoError(t, err)
	second, err := v.Seal("0123456789")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestEmptyValuesPassThrough(t *testing.T) {
	v, err := New("test-vault-secret")
	require.NoError(t, err)

	sealed, err := v.Seal("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	opened, err := v.Open("")
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	sealer, err := New("key-one")
	require.NoError(t, err)
	opener, err := New("key-two")
	require.NoError(t, err)

	sealed, err := sealer.Seal("0123456789")
	require.NoError(t, err)

	_, err = opener.Open(sealed)
	assert.Error(t, err)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	v, err := New("test-vault-secret")
	require.NoError(t, err)

	sealed, err := v.Seal("0123456789")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 1

	_, err = v.Open(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)
}

func TestOpenRejectsGarbage(t *testing.T) {
	v, err := New("test-vault-secret")
	require.NoError(t, err)

	_, err = v.Open("not base64!!!")
	assert.Error(t, err)

	_, err = v.Open("c2hvcnQ=")
	assert.Error(t, err)
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
