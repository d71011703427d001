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
	"errors"
	"fmt"

	"github.com/jfjallid/go-smbwire/smb/encoder"
)

const HeaderSize = 64

// MS-SMB2 Section 2.2.1 SMB2 Packet Header. The 8 bytes at offset 32 hold
// either the AsyncID or Reserved+TreeID depending on SMB2_FLAGS_ASYNC_COMMAND.
type Header struct {
	CreditCharge uint16
	Status       uint32 // ChannelSequence and Reserved in requests
	Command      uint16
	Credits      uint16
	Flags        uint32
	NextCommand  uint32
	MessageID    uint64
	AsyncID      uint64
	TreeID       uint32
	SessionID    uint64
	Signature    [16]byte
}

func newHeader(cmd uint16) Header {
	return Header{
		CreditCharge: 1,
		Command:      cmd,
		Credits:      1,
	}
}

// Encode writes the 64 byte header at buf[pos:] and returns the number of
// bytes written.
func (h *Header) Encode(buf []byte, pos int) (int, error) {
	w := encoder.NewWriter(buf, pos)
	w.WriteBytes([]byte(ProtocolSmb2))
	w.WriteUint16(HeaderSize)
	w.WriteUint16(h.CreditCharge)
	w.WriteUint32(h.Status)
	w.WriteUint16(h.Command)
	w.WriteUint16(h.Credits)
	w.WriteUint32(h.Flags)
	w.WriteUint32(h.NextCommand)
	w.WriteUint64(h.MessageID)
	if h.IsAsync() {
		w.WriteUint64(h.AsyncID)
	} else {
		w.WriteUint32(0)
		w.WriteUint32(h.TreeID)
	}
	w.WriteUint64(h.SessionID)
	w.WriteBytes(h.Signature[:])
	if err := w.Err(); err != nil {
		return 0, fmt.Errorf("smb: encode header: %w: %w", ErrShortBuffer, err)
	}
	return w.Len(), nil
}

// DecodeHeader parses the header at buf[pos:].
func DecodeHeader(buf []byte, pos int) (h Header, n int, err error) {
	if pos < 0 || len(buf)-pos < HeaderSize {
		return h, 0, decodeErr("header", pos, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, HeaderSize, max(len(buf)-pos, 0)))
	}
	if !bytes.Equal(buf[pos:pos+4], []byte(ProtocolSmb2)) {
		return h, 0, decodeErr("header", pos, fmt.Errorf("%w: % x", ErrInvalidProtocolID, buf[pos:pos+4]))
	}
	r := encoder.NewReader(buf[pos : pos+HeaderSize])
	r.Skip(4)
	if size := r.ReadUint16(); size != HeaderSize {
		return h, 0, decodeErr("header", pos+4, fmt.Errorf("%w: %d", ErrInvalidStructureSize, size))
	}
	h.CreditCharge = r.ReadUint16()
	h.Status = r.ReadUint32()
	h.Command = r.ReadUint16()
	h.Credits = r.ReadUint16()
	h.Flags = r.ReadUint32()
	h.NextCommand = r.ReadUint32()
	h.MessageID = r.ReadUint64()
	if h.IsAsync() {
		h.AsyncID = r.ReadUint64()
	} else {
		r.Skip(4)
		h.TreeID = r.ReadUint32()
	}
	h.SessionID = r.ReadUint64()
	r.ReadInto(h.Signature[:])
	if err = r.Err(); err != nil {
		return h, 0, readerErr("header", pos, r)
	}
	return h, r.Position(), nil
}

func (h *Header) IsResponse() bool {
	return h.Flags&SMB2_FLAGS_SERVER_TO_REDIR != 0
}

func (h *Header) IsAsync() bool {
	return h.Flags&SMB2_FLAGS_ASYNC_COMMAND != 0
}

func (h *Header) IsRelated() bool {
	return h.Flags&SMB2_FLAGS_RELATED_OPERATIONS != 0
}

func (h *Header) IsSigned() bool {
	return h.Flags&SMB2_FLAGS_SIGNED != 0
}

// Priority returns the I/O priority value (0-7) carried in the flags.
func (h *Header) Priority() uint8 {
	return uint8((h.Flags & SMB2_FLAGS_PRIORITY_MASK) >> 4)
}

func (h *Header) SetPriority(p uint8) {
	h.Flags = h.Flags&^SMB2_FLAGS_PRIORITY_MASK | (uint32(p)<<4)&SMB2_FLAGS_PRIORITY_MASK
}

// IsSMB2Message reports whether buf starts with an SMB2 protocol id.
func IsSMB2Message(buf []byte) bool {
	return len(buf) >= 4 && string(buf[:4]) == ProtocolSmb2
}

// IsTransformMessage reports whether buf starts with a transform header.
func IsTransformMessage(buf []byte) bool {
	return len(buf) >= 4 && string(buf[:4]) == ProtocolTransformHdr
}

// readerErr converts a latched encoder error into a DecodeError. base is the
// absolute offset the reader's slice starts at.
func readerErr(op string, base int, r *encoder.Reader) error {
	err := r.Err()
	if errors.Is(err, encoder.ErrShortRead) {
		err = fmt.Errorf("%w: %w", ErrShortBuffer, err)
	}
	return decodeErr(op, base+r.Position(), err)
}
