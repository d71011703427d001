// MIT License
//
// Copyright (c) 2017 stacktitan
// Copyright (c) 2023 Jimmy Fjällid for contributions to support more structures
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

/*
Package encoder provides the little-endian primitives used to read and write
SMB2 wire structures.

Both Reader and Writer latch the first error they hit. Callers can issue a
whole sequence of reads or writes and check Err once at the end, which keeps
the per-command codecs flat.
*/
package encoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/jfjallid/golog"
)

var log = golog.Get("github.com/jfjallid/go-smbwire/smb/encoder")

var (
	ErrShortRead      = errors.New("encoder: short read")
	ErrExpectMismatch = errors.New("encoder: expect mismatch")
	ErrOutOfBounds    = errors.New("encoder: write out of bounds")
)

// Reader decodes little-endian values from a byte slice.
type Reader struct {
	data []byte
	pos  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) require(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortRead, n, r.pos, len(r.data)-r.pos)
		log.Debugln(r.err)
		return false
	}
	return true
}

func (r *Reader) ReadUint8() uint8 {
	if !r.require(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *Reader) ReadUint16() uint16 {
	if !r.require(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *Reader) ReadUint32() uint32 {
	if !r.require(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *Reader) ReadUint64() uint64 {
	if !r.require(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// ReadBytes returns a copy of the next n bytes.
func (r *Reader) ReadBytes(n int) []byte {
	if !r.require(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b
}

// ReadInto fills dst from the next len(dst) bytes.
func (r *Reader) ReadInto(dst []byte) {
	if !r.require(len(dst)) {
		return
	}
	copy(dst, r.data[r.pos:])
	r.pos += len(dst)
}

func (r *Reader) Skip(n int) {
	if !r.require(n) {
		return
	}
	r.pos += n
}

// Seek moves the cursor to an absolute position within the buffer.
func (r *Reader) Seek(pos int) {
	if r.err != nil {
		return
	}
	if pos < 0 || pos > len(r.data) {
		r.err = fmt.Errorf("%w: seek to %d, have %d", ErrShortRead, pos, len(r.data))
		return
	}
	r.pos = pos
}

// ExpectUint16 reads a uint16 and records ErrExpectMismatch if it differs
// from expected.
func (r *Reader) ExpectUint16(expected uint16) {
	v := r.ReadUint16()
	if r.err != nil {
		return
	}
	if v != expected {
		r.err = fmt.Errorf("%w: expected 0x%04X, got 0x%04X at offset %d", ErrExpectMismatch, expected, v, r.pos-2)
	}
}

func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) Remaining() int {
	return max(len(r.data)-r.pos, 0)
}

func (r *Reader) Position() int {
	return r.pos
}

// Writer encodes little-endian values into a preallocated buffer window.
// Writes past the window record ErrOutOfBounds instead of growing the buffer,
// since the compound encoder sizes every message before writing it.
type Writer struct {
	buf   []byte
	start int
	pos   int
	err   error
}

// NewWriter returns a Writer that writes into buf starting at pos.
func NewWriter(buf []byte, pos int) *Writer {
	return &Writer{buf: buf, start: pos, pos: pos}
}

func (w *Writer) reserve(n int) bool {
	if w.err != nil {
		return false
	}
	if w.pos+n > len(w.buf) {
		w.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrOutOfBounds, n, w.pos, len(w.buf)-w.pos)
		log.Debugln(w.err)
		return false
	}
	return true
}

func (w *Writer) WriteUint8(v uint8) {
	if !w.reserve(1) {
		return
	}
	w.buf[w.pos] = v
	w.pos++
}

func (w *Writer) WriteUint16(v uint16) {
	if !w.reserve(2) {
		return
	}
	binary.LittleEndian.PutUint16(w.buf[w.pos:], v)
	w.pos += 2
}

func (w *Writer) WriteUint32(v uint32) {
	if !w.reserve(4) {
		return
	}
	binary.LittleEndian.PutUint32(w.buf[w.pos:], v)
	w.pos += 4
}

func (w *Writer) WriteUint64(v uint64) {
	if !w.reserve(8) {
		return
	}
	binary.LittleEndian.PutUint64(w.buf[w.pos:], v)
	w.pos += 8
}

func (w *Writer) WriteBytes(data []byte) {
	if !w.reserve(len(data)) {
		return
	}
	copy(w.buf[w.pos:], data)
	w.pos += len(data)
}

func (w *Writer) WriteZeros(n int) {
	if !w.reserve(n) {
		return
	}
	clear(w.buf[w.pos : w.pos+n])
	w.pos += n
}

// Pad writes zero bytes until the number of bytes written since the Writer
// was created is a multiple of alignment.
func (w *Writer) Pad(alignment int) {
	if alignment <= 0 {
		return
	}
	if rem := (w.pos - w.start) % alignment; rem != 0 {
		w.WriteZeros(alignment - rem)
	}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return w.pos - w.start
}

// Position returns the absolute write offset within the underlying buffer.
func (w *Writer) Position() int {
	return w.pos
}

func (w *Writer) Err() error {
	return w.err
}

// Align8 rounds n up to the next multiple of 8.
func Align8(n int) int {
	return (n + 7) &^ 7
}

// Pad8 returns the number of zero bytes needed to align n to 8.
func Pad8(n int) int {
	return Align8(n) - n
}

// ToUnicode encodes s as UTF-16LE without a terminator.
func ToUnicode(s string) []byte {
	codePoints := utf16.Encode([]rune(s))
	b := make([]byte, 2*len(codePoints))
	for i, cp := range codePoints {
		binary.LittleEndian.PutUint16(b[2*i:], cp)
	}
	return b
}

func FromUnicodeString(buf []byte) (string, error) {
	if len(buf)%2 != 0 {
		return "", fmt.Errorf("Invalid Unicode (UTF-16-LE) string")
	}
	s := make([]uint16, len(buf)/2)
	for i := range s {
		s[i] = binary.LittleEndian.Uint16(buf[2*i:])
	}
	return string(utf16.Decode(s)), nil
}
