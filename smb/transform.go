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
	"bytes"
	"fmt"

	"github.com/jfjallid/go-smbwire/smb/encoder"
)

const TransformHeaderSize = 52

// The AEAD additional data is the transform header from the nonce onwards.
const transformAADOffset = 20

// MS-SMB2 Section 2.2.41 SMB2 TRANSFORM_HEADER
type TransformHeader struct {
	Signature           [16]byte // AEAD tag
	Nonce               [16]byte // 11, 12 or 16 bytes used depending on cipher
	OriginalMessageSize uint32
	Flags               uint16 // Encrypted flag for 3.1.1, cipher id before
	SessionID           uint64
}

func (t *TransformHeader) Encode(buf []byte, pos int) (int, error) {
	w := encoder.NewWriter(buf, pos)
	w.WriteBytes([]byte(ProtocolTransformHdr))
	w.WriteBytes(t.Signature[:])
	w.WriteBytes(t.Nonce[:])
	w.WriteUint32(t.OriginalMessageSize)
	w.WriteUint16(0)
	w.WriteUint16(t.Flags)
	w.WriteUint64(t.SessionID)
	if err := w.Err(); err != nil {
		return 0, fmt.Errorf("smb: encode transform header: %w: %w", ErrShortBuffer, err)
	}
	return w.Len(), nil
}

func DecodeTransformHeader(buf []byte, pos int) (t TransformHeader, n int, err error) {
	if pos < 0 || len(buf)-pos < TransformHeaderSize {
		return t, 0, decodeErr("transform header", pos, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, TransformHeaderSize, max(len(buf)-pos, 0)))
	}
	if !bytes.Equal(buf[pos:pos+4], []byte(ProtocolTransformHdr)) {
		return t, 0, decodeErr("transform header", pos, fmt.Errorf("%w: % x", ErrInvalidProtocolID, buf[pos:pos+4]))
	}
	r := encoder.NewReader(buf[pos : pos+TransformHeaderSize])
	r.Skip(4)
	r.ReadInto(t.Signature[:])
	r.ReadInto(t.Nonce[:])
	t.OriginalMessageSize = r.ReadUint32()
	r.Skip(2)
	t.Flags = r.ReadUint16()
	t.SessionID = r.ReadUint64()
	if r.Err() != nil {
		return t, 0, readerErr("transform header", pos, r)
	}
	return t, r.Position(), nil
}

// AssociatedData returns bytes 20 to 52 of the encoded header, the part
// authenticated but not encrypted by the AEAD.
func (t *TransformHeader) AssociatedData() []byte {
	buf := make([]byte, TransformHeaderSize)
	t.Encode(buf, 0)
	return buf[transformAADOffset:]
}

// transformFlags is the value of the Flags field for a dialect. From 3.1.1 it
// only says the message is encrypted, 3.0 and 3.0.2 put the cipher id there.
func transformFlags(dialect, cipherID uint16) uint16 {
	if dialect >= DialectSmb_3_1_1 {
		return TransformFlagEncrypted
	}
	return cipherID
}
