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

// Package cmac implements AES-CMAC (RFC 4493) as a hash.Hash. SMB 3.0 and
// 3.0.2 sign messages with it, and SMB 3.1.1 does unless AES-GMAC was
// negotiated.
package cmac

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"fmt"
	"hash"
)

const Bsize = 16

// rb is the constant from the subkey generation step for 128-bit blocks.
const rb = 0x87

type cmac struct {
	c   cipher.Block
	k1  [Bsize]byte
	k2  [Bsize]byte
	x   [Bsize]byte // running CBC state xor pending block
	pos int
}

// New returns an AES-CMAC hash keyed with a 128-bit key.
func New(key []byte) (hash.Hash, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("cmac: invalid key size %d, only 128 bit keys are supported", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	m := &cmac{c: block}
	m.k1, m.k2 = generateSubkeys(block)
	return m, nil
}

// Write absorbs data. The last full block is kept pending because it has to
// be combined with K1 in Sum.
func (m *cmac) Write(data []byte) (int, error) {
	for _, b := range data {
		if m.pos == Bsize {
			m.c.Encrypt(m.x[:], m.x[:])
			m.pos = 0
		}
		m.x[m.pos] ^= b
		m.pos++
	}
	return len(data), nil
}

func (m *cmac) Sum(in []byte) []byte {
	var last [Bsize]byte
	copy(last[:], m.x[:])
	if m.pos == Bsize {
		subtle.XORBytes(last[:], last[:], m.k1[:])
	} else {
		last[m.pos] ^= 0x80
		subtle.XORBytes(last[:], last[:], m.k2[:])
	}
	m.c.Encrypt(last[:], last[:])
	return append(in, last[:]...)
}

func (m *cmac) Reset() {
	clear(m.x[:])
	m.pos = 0
}

func (m *cmac) Size() int {
	return Bsize
}

func (m *cmac) BlockSize() int {
	return Bsize
}

func generateSubkeys(block cipher.Block) (k1, k2 [Bsize]byte) {
	var l [Bsize]byte
	block.Encrypt(l[:], l[:])
	k1 = double(l)
	k2 = double(k1)
	return
}

// double multiplies a block by x in GF(2^128).
func double(in [Bsize]byte) (out [Bsize]byte) {
	var carry byte
	for i := Bsize - 1; i >= 0; i-- {
		out[i] = in[i]<<1 | carry
		carry = in[i] >> 7
	}
	if in[0]&0x80 != 0 {
		out[Bsize-1] ^= rb
	}
	return
}
