package ccm

import (
	"crypto/aes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// Examples 1-3 from SP 800-38C appendix C.
func TestCCMVectors(t *testing.T) {
	key := "404142434445464748494a4b4c4d4e4f"
	cases := []struct {
		nonce, aad, plaintext, ciphertext string
		tagSize                           int
	}{
		{
			nonce:      "10111213141516",
			aad:        "0001020304050607",
			plaintext:  "20212223",
			ciphertext: "7162015b4dac255d",
			tagSize:    4,
		},
		{
			nonce:      "1011121314151617",
			aad:        "000102030405060708090a0b0c0d0e0f",
			plaintext:  "202122232425262728292a2b2c2d2e2f",
			ciphertext: "d2a1f0e051ea5f62081a7792073d593d1fc64fbfaccd",
			tagSize:    6,
		},
		{
			nonce:      "101112131415161718191a1b",
			aad:        "000102030405060708090a0b0c0d0e0f10111213",
			plaintext:  "202122232425262728292a2b2c2d2e2f3031323334353637",
			ciphertext: "e3b201a9f5b71a7a9b1ceaeccd97e70b6176aad9a4428aa5484392fbc1b09951",
			tagSize:    8,
		},
	}

	block, err := aes.NewCipher(unhex(t, key))
	require.NoError(t, err)

	for _, tc := range cases {
		nonce := unhex(t, tc.nonce)
		aead, err := NewCCMWithNonceAndTagSizes(block, len(nonce), tc.tagSize)
		require.NoError(t, err)

		sealed := aead.Seal(nil, nonce, unhex(t, tc.plaintext), unhex(t, tc.aad))
		assert.Equal(t, tc.ciphertext, hex.EncodeToString(sealed))

		opened, err := aead.Open(nil, nonce, sealed, unhex(t, tc.aad))
		require.NoError(t, err)
		assert.Equal(t, tc.plaintext, hex.EncodeToString(opened))
	}
}

func TestCCMRoundTripSMBSizes(t *testing.T) {
	msg := []byte("Lorem ipsum dolor sit amet, consectetur adipiscing elit. Nunc accumsan ante urna. Mauris dictum libero orci. Donec a enim mi.")
	aad := make([]byte, 32)
	for _, keyLen := range []int{16, 32} {
		for _, nonceSize := range []int{11, 12} {
			block, err := aes.NewCipher(make([]byte, keyLen))
			require.NoError(t, err)
			aead, err := NewCCMWithNonceAndTagSizes(block, nonceSize, 16)
			require.NoError(t, err)

			nonce := make([]byte, nonceSize)
			nonce[0] = 1
			sealed := aead.Seal(nil, nonce, msg, aad)
			require.Len(t, sealed, len(msg)+16)

			opened, err := aead.Open(nil, nonce, sealed, aad)
			require.NoError(t, err)
			assert.Equal(t, msg, opened)

			// in place, the way the transform decoder calls it
			inPlace := append([]byte(nil), sealed...)
			opened, err = aead.Open(inPlace[:0], nonce, inPlace, aad)
			require.NoError(t, err)
			assert.Equal(t, msg, opened)
		}
	}
}

func TestCCMDetectsTampering(t *testing.T) {
	block, err := aes.NewCipher([]byte("YELLOW SUBMARINE"))
	require.NoError(t, err)
	aead, err := NewCCMWithNonceAndTagSizes(block, 12, 16)
	require.NoError(t, err)

	nonce := make([]byte, 12)
	sealed := aead.Seal(nil, nonce, []byte("attack at dawn"), []byte("hdr"))
	for i := range sealed {
		for bit := 0; bit < 8; bit++ {
			forged := append([]byte(nil), sealed...)
			forged[i] ^= 1 << bit
			_, err := aead.Open(nil, nonce, forged, []byte("hdr"))
			require.Error(t, err, "byte %d bit %d", i, bit)
		}
	}

	_, err = aead.Open(nil, nonce, sealed, []byte("HDR"))
	require.Error(t, err)
}

func TestCCMEmptyPayload(t *testing.T) {
	block, err := aes.NewCipher(make([]byte, 16))
	require.NoError(t, err)
	aead, err := NewCCMWithNonceAndTagSizes(block, 11, 16)
	require.NoError(t, err)

	nonce := make([]byte, 11)
	sealed := aead.Seal(nil, nonce, nil, []byte("aad"))
	require.Len(t, sealed, 16)
	opened, err := aead.Open(nil, nonce, sealed, []byte("aad"))
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestCCMParameterValidation(t *testing.T) {
	block, err := aes.NewCipher(make([]byte, 16))
	require.NoError(t, err)

	_, err = NewCCMWithNonceAndTagSizes(block, 6, 16)
	require.Error(t, err)
	_, err = NewCCMWithNonceAndTagSizes(block, 14, 16)
	require.Error(t, err)
	_, err = NewCCMWithNonceAndTagSizes(block, 12, 15)
	require.Error(t, err)
	_, err = NewCCMWithNonceAndTagSizes(block, 12, 2)
	require.Error(t, err)

	aead, err := NewCCMWithNonceAndTagSizes(block, 12, 16)
	require.NoError(t, err)
	assert.Panics(t, func() { aead.Seal(nil, make([]byte, 11), []byte("x"), nil) })
	_, err = aead.Open(nil, make([]byte, 11), make([]byte, 20), nil)
	require.Error(t, err)
	_, err = aead.Open(nil, make([]byte, 12), make([]byte, 4), nil)
	require.Error(t, err)
}
