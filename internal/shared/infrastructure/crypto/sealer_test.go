package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESSealerFromBase64Key(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "valid key", key: testKey()},
		{name: "empty key", key: "", wantErr: ErrEmptyKey},
		{name: "short key", key: base64.StdEncoding.EncodeToString([]byte("short")), wantErr: ErrKeySize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewAESSealerFromBase64Key(tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}

	t.Run("invalid base64", func(t *testing.T) {
		_, err := NewAESSealerFromBase64Key("not-valid-base64!!!")
		assert.Error(t, err)
	})
}

func TestAESSealer_SealOpen(t *testing.T) {
	s, err := NewAESSealerFromBase64Key(testKey())
	require.NoError(t, err)

	secret := "whsec_0123456789abcdef"
	sealed, err := s.Seal(secret)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))
	assert.NotContains(t, sealed, secret)

	again, err := s.Seal(secret)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, secret, opened)
}

func TestAESSealer_OpenLegacyPlaintext(t *testing.T) {
	s, err := NewAESSealerFromBase64Key(testKey())
	require.NoError(t, err)

	opened, err := s.Open("whsec_plain")
	require.NoError(t, err)
	assert.Equal(t, "whsec_plain", opened)
}

func TestAESSealer_OpenTampered(t *testing.T) {
	s, err := NewAESSealerFromBase64Key(testKey())
	require.NoError(t, err)

	sealed, err := s.Seal("whsec_x")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := sealedPrefix + base64.StdEncoding.EncodeToString(raw)

	_, err = s.Open(tampered)
	assert.ErrorIs(t, err, ErrSealedValue)

	_, err = s.Open(sealedPrefix + "AAAA")
	assert.ErrorIs(t, err, ErrSealedValue)
}

func TestNewSealer(t *testing.T) {
	s, err := NewSealer("")
	require.NoError(t, err)
	assert.IsType(t, NoopSealer{}, s)

	sealed, err := s.Seal("whsec_x")
	require.NoError(t, err)
	assert.Equal(t, "whsec_x", sealed)

	_, err = s.Open(sealedPrefix + "AAAA")
	assert.ErrorIs(t, err, ErrSealedValue)

	s, err = NewSealer(testKey())
	require.NoError(t, err)
	assert.IsType(t, &AESSealer{}, s)
}
