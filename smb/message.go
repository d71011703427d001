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
	"errors"
	"fmt"

	"github.com/jfjallid/go-smbwire/smb/encoder"
)

// Body is the command specific part of a message. Encode must write exactly
// Size bytes. Offsets inside a body are relative to the header start, which
// is where both the Reader and the Writer handed to a Body are anchored.
type Body interface {
	Command() uint16
	Size() int
	Encode(w *encoder.Writer)
	Decode(r *encoder.Reader) error
}

// PayloadSizer is implemented by bodies that move data and therefore charge
// more than one credit.
type PayloadSizer interface {
	PayloadSize() int
}

// StatusAccepter is implemented by response bodies that are still present for
// some non-success statuses, e.g. STATUS_BUFFER_OVERFLOW on READ.
type StatusAccepter interface {
	AcceptsStatus(status uint32) bool
}

// BodyFactory returns an empty body to decode a message into.
type BodyFactory func(command uint16, response bool) Body

// Packet is a single SMB2 message.
type Packet struct {
	Header Header
	Body   Body
	// Error holds the error response body when Header.Status is an error
	// the Body does not accept.
	Error *ErrorResponse
	// Length is the decoded length of the message including padding, or
	// the trailing bytes attributed to the last message of a compound
	// response.
	Length int
	// Raw is a copy of the message bytes on the wire, kept when
	// RetainPayload is set before decoding.
	Raw           []byte
	RetainPayload bool

	start, end int
}

// NewPacket returns a request packet for body with the credit charge set from
// its payload size.
func NewPacket(body Body) *Packet {
	p := &Packet{Header: newHeader(body.Command()), Body: body}
	if ps, ok := body.(PayloadSizer); ok {
		p.Header.CreditCharge = creditCharge(ps.PayloadSize())
		p.Header.Credits = p.Header.CreditCharge
	}
	return p
}

// MS-SMB2 3.1.5.2, one credit per 64KiB started.
func creditCharge(payload int) uint16 {
	if payload <= 0 {
		return 1
	}
	return uint16((payload-1)/65536 + 1)
}

// Size returns the unpadded length of header and body.
func (p *Packet) Size() int {
	n := HeaderSize
	if p.Error != nil {
		n += p.Error.Size()
	} else if p.Body != nil {
		n += p.Body.Size()
	}
	return n
}

// Encode writes header, body and zero padding up to the next 8 byte boundary
// measured from pos. It returns the padded length.
func (p *Packet) Encode(buf []byte, pos int) (int, error) {
	total := encoder.Align8(p.Size())
	if pos < 0 || len(buf)-pos < total {
		return 0, fmt.Errorf("smb: encode %s: %w: need %d bytes", CommandName(p.Header.Command), ErrShortBuffer, total)
	}
	if _, err := p.Header.Encode(buf, pos); err != nil {
		return 0, err
	}
	w := encoder.NewWriter(buf[:pos+total], pos+HeaderSize)
	var want int
	switch {
	case p.Error != nil:
		p.Error.Encode(w)
		want = p.Error.Size()
	case p.Body != nil:
		p.Body.Encode(w)
		want = p.Body.Size()
	}
	if w.Len() != want {
		err := fmt.Errorf("smb: encode %s: body wrote %d bytes, expected %d", CommandName(p.Header.Command), w.Len(), want)
		log.Errorln(err)
		return 0, err
	}
	w.Pad(8)
	if err := w.Err(); err != nil {
		return 0, fmt.Errorf("smb: encode %s: %w", CommandName(p.Header.Command), err)
	}
	p.Length = total
	return total, nil
}

// Decode parses one message at buf[pos:]. When compound is set and this is
// the last message of the chain, bytes remaining in buf are attributed to it.
func (p *Packet) Decode(buf []byte, pos int, compound bool) (int, error) {
	return p.decode(buf, pos, compound, NewBody)
}

func (p *Packet) decode(buf []byte, pos int, compound bool, factory BodyFactory) (int, error) {
	h, _, err := DecodeHeader(buf, pos)
	if err != nil {
		return 0, err
	}
	p.Header = h

	end := len(buf)
	if h.NextCommand != 0 {
		if h.NextCommand%8 != 0 {
			return 0, decodeErr("next command", pos+20, fmt.Errorf("%w: %d", ErrUnalignedNextCommand, h.NextCommand))
		}
		if h.NextCommand < HeaderSize {
			return 0, decodeErr("next command", pos+20, fmt.Errorf("%w: %d", ErrNextCommandOverlap, h.NextCommand))
		}
		if int(h.NextCommand) > len(buf)-pos {
			return 0, decodeErr("next command", pos+20, fmt.Errorf("%w: offset %d beyond %d bytes", ErrShortBuffer, h.NextCommand, len(buf)-pos))
		}
		end = pos + int(h.NextCommand)
	}

	if p.Body == nil || p.Body.Command() != h.Command {
		if factory == nil {
			factory = NewBody
		}
		p.Body = factory(h.Command, h.IsResponse())
	}

	r := encoder.NewReader(buf[pos:end])
	r.Seek(HeaderSize)
	if p.isErrorStatus() {
		p.Error = &ErrorResponse{}
		err = p.Error.Decode(r)
	} else {
		p.Error = nil
		err = p.Body.Decode(r)
	}
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Offset += pos
			return 0, err
		}
		if r.Err() != nil {
			return 0, readerErr(CommandName(h.Command), pos, r)
		}
		return 0, decodeErr(CommandName(h.Command), pos+r.Position(), err)
	}
	consumed := r.Position()

	switch {
	case h.NextCommand != 0:
		p.Length = encoder.Align8(consumed)
	case compound:
		// Servers may leave out the final NextCommand while more bytes follow
		// in the same receive. Those bytes belong to this message.
		p.Length = len(buf) - pos
	default:
		p.Length = consumed
	}
	p.start, p.end = pos, end
	if p.RetainPayload {
		p.Raw = append([]byte(nil), buf[pos:end]...)
	}
	log.Debugf("Decoded %s (msg id %d, status 0x%08x, length %d)\n", CommandName(h.Command), h.MessageID, h.Status, p.Length)
	return p.Length, nil
}

func (p *Packet) isErrorStatus() bool {
	s := p.Header.Status
	if s == StatusOk || !p.Header.IsResponse() {
		return false
	}
	if sa, ok := p.Body.(StatusAccepter); ok && sa.AcceptsStatus(s) {
		return false
	}
	return true
}

// Err returns a StatusError for responses carrying an error status. An
// interim response is not an error.
func (p *Packet) Err() error {
	if !p.Header.IsResponse() || p.Header.Status == StatusOk || p.IsInterim() {
		return nil
	}
	if p.Error == nil {
		return nil
	}
	return StatusError{Command: p.Header.Command, Status: p.Header.Status}
}

// IsInterim reports whether p is an interim STATUS_PENDING response. The
// AsyncID it carries is what a later CancelRequest needs.
func (p *Packet) IsInterim() bool {
	return p.Header.IsResponse() && p.Header.IsAsync() && p.Header.Status == StatusPending
}

// CancelRequest builds the CANCEL message for this request. It reuses the
// message id and, once the server went async, the async id. A cancel does not
// consume credits or a new message id.
func (p *Packet) CancelRequest() *Packet {
	c := &Packet{Header: newHeader(CommandCancel), Body: &CancelRequest{}}
	c.Header.CreditCharge = 0
	c.Header.Credits = 0
	c.Header.MessageID = p.Header.MessageID
	c.Header.SessionID = p.Header.SessionID
	if p.Header.AsyncID != 0 {
		c.Header.Flags |= SMB2_FLAGS_ASYNC_COMMAND
		c.Header.AsyncID = p.Header.AsyncID
	} else {
		c.Header.TreeID = p.Header.TreeID
	}
	return c
}

// MS-SMB2 Section 2.2.2 SMB2 ERROR Response
type ErrorResponse struct {
	ContextCount uint8
	Data         []byte
}

const errorResponseStructureSize = 9

// Size counts the one byte ErrorData that is sent even when empty.
func (e *ErrorResponse) Size() int {
	return 8 + max(len(e.Data), 1)
}

func (e *ErrorResponse) Encode(w *encoder.Writer) {
	w.WriteUint16(errorResponseStructureSize)
	w.WriteUint8(e.ContextCount)
	w.WriteUint8(0)
	w.WriteUint32(uint32(len(e.Data)))
	if len(e.Data) == 0 {
		w.WriteUint8(0)
		return
	}
	w.WriteBytes(e.Data)
}

func (e *ErrorResponse) Decode(r *encoder.Reader) error {
	start := r.Position()
	if size := r.ReadUint16(); r.Err() == nil && size != errorResponseStructureSize {
		return decodeErr("error response", start, fmt.Errorf("%w: structure size %d", ErrInvalidErrorResponse, size))
	}
	e.ContextCount = r.ReadUint8()
	r.Skip(1)
	n := r.ReadUint32()
	if err := r.Err(); err != nil {
		return err
	}
	if n == 0 {
		if r.Remaining() > 0 {
			r.Skip(1)
		}
		return nil
	}
	if int64(n) > int64(r.Remaining()) {
		return decodeErr("error response", r.Position(), fmt.Errorf("%w: byte count %d, have %d", ErrInvalidErrorResponse, n, r.Remaining()))
	}
	e.Data = r.ReadBytes(int(n))
	return r.Err()
}

// MS-SMB2 Section 2.2.2.1 SMB2 ERROR Context Response
type ErrorContext struct {
	ErrorID uint32
	Data    []byte
}

// Contexts splits SMB 3.1.1 error contexts. Without contexts the whole error
// data is returned as one context with id 0.
func (e *ErrorResponse) Contexts() ([]ErrorContext, error) {
	if e.ContextCount == 0 {
		if len(e.Data) == 0 {
			return nil, nil
		}
		return []ErrorContext{{Data: e.Data}}, nil
	}
	r := encoder.NewReader(e.Data)
	res := make([]ErrorContext, 0, e.ContextCount)
	for i := 0; i < int(e.ContextCount); i++ {
		r.Seek(encoder.Align8(r.Position()))
		n := r.ReadUint32()
		id := r.ReadUint32()
		data := r.ReadBytes(int(n))
		if r.Err() != nil {
			return nil, readerErr("error context", 0, r)
		}
		res = append(res, ErrorContext{ErrorID: id, Data: data})
	}
	return res, nil
}
