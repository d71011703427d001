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

package ccm

/* AES in CCM mode from NIST Special Publication SP 800-38C.

SMB 3.0 and 3.0.2 only negotiate AES-CCM, SMB 3.1.1 may pick it for servers
without GCM. The mode is CBC-MAC over (B_0 || encoded AAD || payload) followed
by CTR encryption of the payload, with the MAC encrypted under counter block 0.
*/

import (
	"crypto/cipher"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/jfjallid/golog"
)

var log = golog.Get("github.com/jfjallid/go-smbwire/smb/crypto/ccm")

var errOpen = errors.New("ccm: message authentication failed")

const blockSize = 16

type ccm struct {
	c         cipher.Block
	nonceSize int
	tagSize   int
}

// NewCCMWithNonceAndTagSizes wraps a 128-bit block cipher in Counter mode with
// CBC-MAC.
// The nonceSize must be one of {7, 8, 9, 10, 11, 12, 13} bytes.
// The tagSize must be one of {4, 6, 8, 10, 12, 14, 16} bytes.
// The maximum payload is 2^((15-nonceSize)*8) - 1 bytes.
//
// The returned AEAD keeps no per-message state and is safe for concurrent use.
func NewCCMWithNonceAndTagSizes(c cipher.Block, nonceSize, tagSize int) (cipher.AEAD, error) {
	if c.BlockSize() != blockSize {
		err := fmt.Errorf("ccm: requires a 16 byte block cipher but got a %d byte one", c.BlockSize())
		log.Errorln(err)
		return nil, err
	}
	if nonceSize < 7 || nonceSize > 13 {
		err := fmt.Errorf("ccm: invalid nonce size %d, accepted values are 7..13", nonceSize)
		log.Errorln(err)
		return nil, err
	}
	if tagSize < 4 || tagSize > 16 || tagSize%2 != 0 {
		err := fmt.Errorf("ccm: invalid tag size %d, accepted values are {4, 6, 8, 10, 12, 14, 16}", tagSize)
		log.Errorln(err)
		return nil, err
	}
	return &ccm{c: c, nonceSize: nonceSize, tagSize: tagSize}, nil
}

func (m *ccm) NonceSize() int {
	return m.nonceSize
}

func (m *ccm) Overhead() int {
	return m.tagSize
}

// q is the octet length of the payload length field.
func (m *ccm) q() int {
	return 15 - m.nonceSize
}

func (m *ccm) maxPayload() uint64 {
	q := m.q()
	if q >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*q) - 1
}

// counterBlock returns Ctr_i for i = 0 or 1.
func (m *ccm) counterBlock(nonce []byte, i byte) []byte {
	ctr := make([]byte, blockSize)
	ctr[0] = byte(m.q() - 1)
	copy(ctr[1:], nonce)
	ctr[blockSize-1] = i
	return ctr
}

// Seal panics on a wrong nonce length or an oversized plaintext, like the
// AEADs in crypto/cipher.
func (m *ccm) Seal(dst, nonce, plaintext, additionalData []byte) []byte {
	if len(nonce) != m.nonceSize {
		panic(fmt.Sprintf("ccm: incorrect nonce length given to Seal: got %d, want %d", len(nonce), m.nonceSize))
	}
	if uint64(len(plaintext)) > m.maxPayload() {
		panic("ccm: message too large for nonce size")
	}

	tag := m.cbcMAC(nonce, plaintext, additionalData)

	ret, out := sliceForAppend(dst, len(plaintext)+m.tagSize)

	s0 := make([]byte, blockSize)
	m.c.Encrypt(s0, m.counterBlock(nonce, 0))
	cipher.NewCTR(m.c, m.counterBlock(nonce, 1)).XORKeyStream(out[:len(plaintext)], plaintext)
	subtle.XORBytes(out[len(plaintext):], tag[:m.tagSize], s0[:m.tagSize])

	return ret
}

func (m *ccm) Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != m.nonceSize {
		return nil, fmt.Errorf("ccm: incorrect nonce length given to Open: got %d, want %d", len(nonce), m.nonceSize)
	}
	if len(ciphertext) < m.tagSize {
		return nil, errOpen
	}
	if uint64(len(ciphertext)-m.tagSize) > m.maxPayload() {
		return nil, errOpen
	}

	n := len(ciphertext) - m.tagSize
	var tag [blockSize]byte
	copy(tag[:], ciphertext[n:])

	ret, out := sliceForAppend(dst, n)

	s0 := make([]byte, blockSize)
	m.c.Encrypt(s0, m.counterBlock(nonce, 0))
	cipher.NewCTR(m.c, m.counterBlock(nonce, 1)).XORKeyStream(out, ciphertext[:n])

	expected := m.cbcMAC(nonce, out, additionalData)
	subtle.XORBytes(expected[:m.tagSize], expected[:m.tagSize], s0[:m.tagSize])

	if subtle.ConstantTimeCompare(expected[:m.tagSize], tag[:m.tagSize]) != 1 {
		clear(out)
		return nil, errOpen
	}
	return ret, nil
}

// cbcMAC computes the unencrypted tag T over B_0, the encoded associated data
// and the payload (A.2 of SP 800-38C).
func (m *ccm) cbcMAC(nonce, payload, additionalData []byte) []byte {
	st := &macState{c: m.c}

	b0 := make([]byte, blockSize)
	b0[0] = byte(m.q()-1) | byte((m.tagSize-2)/2)<<3
	if len(additionalData) > 0 {
		b0[0] |= 1 << 6
	}
	copy(b0[1:], nonce)
	putBigEndian(b0[1+m.nonceSize:], uint64(len(payload)))
	st.write(b0)

	if a := uint64(len(additionalData)); a > 0 {
		var prefix []byte
		switch {
		case a < 0xff00:
			prefix = make([]byte, 2)
			putBigEndian(prefix, a)
		case a < 1<<32:
			prefix = make([]byte, 6)
			prefix[0], prefix[1] = 0xff, 0xfe
			putBigEndian(prefix[2:], a)
		default:
			prefix = make([]byte, 10)
			prefix[0], prefix[1] = 0xff, 0xff
			putBigEndian(prefix[2:], a)
		}
		st.write(prefix)
		st.write(additionalData)
		st.flush()
	}

	st.write(payload)
	st.flush()

	return st.x[:]
}

type macState struct {
	c   cipher.Block
	x   [blockSize]byte
	pos int
}

func (s *macState) write(p []byte) {
	for _, b := range p {
		s.x[s.pos] ^= b
		s.pos++
		if s.pos == blockSize {
			s.c.Encrypt(s.x[:], s.x[:])
			s.pos = 0
		}
	}
}

// flush zero-pads the current block.
func (s *macState) flush() {
	if s.pos != 0 {
		s.c.Encrypt(s.x[:], s.x[:])
		s.pos = 0
	}
}

func putBigEndian(buf []byte, v uint64) {
	for i := len(buf) - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
}

// sliceForAppend extends in by n bytes and returns the whole slice plus the
// new tail, reusing the backing array when it is large enough.
func sliceForAppend(in []byte, n int) (head, tail []byte) {
	if total := len(in) + n; cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}
	tail = head[len(in):]
	return
}
