package smb

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherHelpers(t *testing.T) {
	assert.Equal(t, 16, KeySize(AES128CCM))
	assert.Equal(t, 16, KeySize(AES128GCM))
	assert.Equal(t, 32, KeySize(AES256CCM))
	assert.Equal(t, 32, KeySize(AES256GCM))
	assert.Equal(t, 0, KeySize(0))

	assert.True(t, IsGCM(AES256GCM))
	assert.False(t, IsGCM(AES256CCM))
	assert.Equal(t, "unknown cipher 0x0009", CipherName(9))

	preferred := PreferredCiphers()
	assert.ElementsMatch(t, allCiphers, preferred)
	if hasGCMAcceleration() {
		assert.Equal(t, AES128GCM, preferred[0])
	} else {
		assert.Equal(t, AES128CCM, preferred[0])
	}
}

func TestSelectCipher(t *testing.T) {
	offered := []uint16{AES256CCM, AES256GCM}
	var want uint16
	for _, c := range PreferredCiphers() {
		if c == AES256CCM || c == AES256GCM {
			want = c
			break
		}
	}
	got, err := SelectCipher(offered)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = SelectCipher([]uint16{9, AES128GCM})
	require.NoError(t, err)
	assert.Equal(t, AES128GCM, got)

	_, err = SelectCipher([]uint16{9})
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	require.ErrorIs(t, err, ErrUnsupportedCipher)
	_, err = SelectCipher(nil)
	require.ErrorIs(t, err, ErrUnsupportedCipher)
}

func TestNewClientKeyMaterial(t *testing.T) {
	sessionKey := bytes.Repeat([]byte{0x42}, 16)
	preauth := bytes.Repeat([]byte{0x24}, 64)

	km, err := NewClientKeyMaterial(DialectSmb_3_1_1, []uint16{AES256GCM}, sessionKey, preauth)
	require.NoError(t, err)
	assert.Equal(t, AES256GCM, km.CipherID)
	enc, err := DeriveEncryptionKey(DialectSmb_3_1_1, AES256GCM, sessionKey, preauth)
	require.NoError(t, err)
	dec, err := DeriveDecryptionKey(DialectSmb_3_1_1, AES256GCM, sessionKey, preauth)
	require.NoError(t, err)
	assert.Equal(t, enc, km.EncryptionKey)
	assert.Equal(t, dec, km.DecryptionKey)
	assert.Equal(t, sessionKey, km.SessionKey)
	km.SessionKey[0] = 0
	assert.Equal(t, byte(0x42), sessionKey[0])

	// The server side swaps the two keys
	client, err := NewEncryptionContext(km, DefaultOptions())
	require.NoError(t, err)
	defer client.Close()
	server, err := NewEncryptionContext(KeyMaterial{CipherID: km.CipherID, Dialect: km.Dialect, EncryptionKey: dec, DecryptionKey: enc}, DefaultOptions())
	require.NoError(t, err)
	defer server.Close()
	out, err := client.Encrypt([]byte("negotiated"), 7)
	require.NoError(t, err)
	got, err := server.Decrypt(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("negotiated"), got)

	// No cipher negotiation before 3.1.1
	km, err = NewClientKeyMaterial(DialectSmb_3_0_2, nil, sessionKey, nil)
	require.NoError(t, err)
	assert.Equal(t, AES128CCM, km.CipherID)

	_, err = NewClientKeyMaterial(DialectSmb_3_1_1, []uint16{9}, sessionKey, preauth)
	require.ErrorIs(t, err, ErrUnsupportedCipher)
	_, err = NewClientKeyMaterial(DialectSmb_2_1, nil, sessionKey, nil)
	require.ErrorIs(t, err, ErrUnsupportedDialect)
	_, err = NewClientKeyMaterial(DialectSmb_3_1_1, []uint16{AES128GCM}, nil, preauth)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestNonceSizes(t *testing.T) {
	assert.Equal(t, 16, nonceSize(AES128GCM, NonceLayoutExtended))
	assert.Equal(t, 12, nonceSize(AES256CCM, NonceLayoutExtended))
	assert.Equal(t, 12, nonceSize(AES256GCM, NonceLayoutWire))
	assert.Equal(t, 11, nonceSize(AES128CCM, NonceLayoutWire))
}

func TestValidateOptions(t *testing.T) {
	require.NoError(t, validateOptions(DefaultOptions()))
	require.NoError(t, validateOptions(Options{}))

	opt := DefaultOptions()
	opt.RotationTimeLimit = -time.Minute
	require.Error(t, validateOptions(opt))

	opt = DefaultOptions()
	opt.NonceLayout = NonceLayout(2)
	require.Error(t, validateOptions(opt))
}
