// MIT License
//
// # Copyright (c) 2023 Jimmy Fjällid
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package smb

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"sync"

	"github.com/jfjallid/go-smbwire/smb/crypto/cmac"
	"github.com/jfjallid/go-smbwire/smb/keys"
)

// Signer signs and verifies one message in place. pkt spans the message from
// its header to the start of the next message, or to the end of the PDU.
// Close wipes the signing key; a closed Signer signs nothing and verifies
// nothing.
type Signer interface {
	Sign(pkt []byte) error
	Verify(pkt []byte) bool
	Close() error
}

// NewSigner derives the signing key for the dialect and returns the signer
// for the negotiated algorithm. algorithm is only consulted for 3.1.1; older
// dialects have a fixed algorithm.
func NewSigner(dialect, algorithm uint16, sessionKey, preauth []byte) (Signer, error) {
	if len(sessionKey) == 0 {
		return nil, &PreconditionError{Op: "new signer", Err: fmt.Errorf("%w: empty session key", ErrInvalidKey)}
	}
	key, err := DeriveSigningKey(dialect, sessionKey, preauth)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe(key)

	switch {
	case dialect < DialectSmb_3_0:
		algorithm = HMAC_SHA256
	case dialect < DialectSmb_3_1_1:
		algorithm = AES_CMAC
	}

	switch algorithm {
	case HMAC_SHA256:
		return &hashSigner{key: append([]byte(nil), key...), newHash: newHMAC}, nil
	case AES_CMAC:
		k := append([]byte(nil), key[:16]...)
		if _, err := cmac.New(k); err != nil {
			keys.Wipe(k)
			return nil, err
		}
		return &hashSigner{key: k, newHash: cmac.New}, nil
	case AES_GMAC:
		block, err := aes.NewCipher(key[:16])
		if err != nil {
			return nil, err
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		return &gmacSigner{gcm: gcm}, nil
	}
	return nil, &PreconditionError{Op: "new signer", Err: fmt.Errorf("unsupported signing algorithm 0x%04x", algorithm)}
}

// prepare sets the signed flag and clears the signature field.
func prepare(pkt []byte) error {
	if len(pkt) < HeaderSize {
		return fmt.Errorf("smb: sign: %w: %d bytes", ErrShortBuffer, len(pkt))
	}
	flags := binary.LittleEndian.Uint32(pkt[16:20])
	binary.LittleEndian.PutUint32(pkt[16:20], flags|SMB2_FLAGS_SIGNED)
	clear(pkt[48:64])
	return nil
}

func newHMAC(key []byte) (hash.Hash, error) {
	return hmac.New(sha256.New, key), nil
}

// hashSigner covers HMAC-SHA256 and AES-CMAC, both computed over the whole
// message with a zeroed signature field. A new hash is created per message so
// the signer can be shared between goroutines.
type hashSigner struct {
	mu      sync.RWMutex
	key     []byte
	newHash func(key []byte) (hash.Hash, error)
}

func (s *hashSigner) Sign(pkt []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return &PreconditionError{Op: "sign", Err: ErrSignerClosed}
	}
	if err := prepare(pkt); err != nil {
		return err
	}
	h, err := s.newHash(s.key)
	if err != nil {
		return err
	}
	h.Write(pkt)
	copy(pkt[48:64], h.Sum(nil))
	return nil
}

func (s *hashSigner) Verify(pkt []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil || len(pkt) < HeaderSize {
		return false
	}
	var signature [16]byte
	copy(signature[:], pkt[48:64])
	// Remove signature
	clear(pkt[48:64])
	h, err := s.newHash(s.key)
	if err != nil {
		copy(pkt[48:64], signature[:])
		return false
	}
	h.Write(pkt)
	// Restore signature
	copy(pkt[48:64], signature[:])
	return hmac.Equal(signature[:], h.Sum(nil)[:16])
}

func (s *hashSigner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys.Wipe(s.key)
	s.key = nil
	return nil
}

// gmacSigner implements AES-GMAC signing from MS-SMB2 3.1.4.1: GCM with an
// empty plaintext, the message as additional data and a nonce made of the
// message id and the role and cancel bits.
type gmacSigner struct {
	mu  sync.RWMutex
	gcm cipher.AEAD
}

func gmacNonce(pkt []byte) []byte {
	nonce := make([]byte, 12)
	copy(nonce[:8], pkt[24:32])
	flags := binary.LittleEndian.Uint32(pkt[16:20])
	if flags&SMB2_FLAGS_SERVER_TO_REDIR != 0 {
		nonce[8] |= 0x01
	}
	if binary.LittleEndian.Uint16(pkt[12:14]) == CommandCancel {
		nonce[8] |= 0x02
	}
	return nonce
}

func (s *gmacSigner) Sign(pkt []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gcm == nil {
		return &PreconditionError{Op: "sign", Err: ErrSignerClosed}
	}
	if err := prepare(pkt); err != nil {
		return err
	}
	tag := s.gcm.Seal(nil, gmacNonce(pkt), nil, pkt)
	copy(pkt[48:64], tag)
	return nil
}

func (s *gmacSigner) Verify(pkt []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gcm == nil || len(pkt) < HeaderSize {
		return false
	}
	var signature [16]byte
	copy(signature[:], pkt[48:64])
	clear(pkt[48:64])
	tag := s.gcm.Seal(nil, gmacNonce(pkt), nil, pkt)
	copy(pkt[48:64], signature[:])
	return hmac.Equal(signature[:], tag)
}

// Close drops the cipher. The expanded key lives inside crypto/aes and cannot
// be wiped.
func (s *gmacSigner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gcm = nil
	return nil
}
