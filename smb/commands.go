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
	"fmt"

	"github.com/jfjallid/go-smbwire/smb/encoder"
)

// FileID is the persistent+volatile handle returned by CREATE.
type FileID [16]byte

// FileIDCompounded makes a related request use the handle opened by an
// earlier CREATE in the same chain.
var FileIDCompounded = FileID{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// NewBody returns the body type for a command, or a RawBody for commands
// without a dedicated codec.
func NewBody(command uint16, response bool) Body {
	switch command {
	case CommandEcho:
		if response {
			return &EchoResponse{}
		}
		return &EchoRequest{}
	case CommandCancel:
		return &CancelRequest{}
	case CommandLogoff:
		if response {
			return &LogoffResponse{}
		}
		return &LogoffRequest{}
	case CommandTreeDisconnect:
		if response {
			return &TreeDisconnectResponse{}
		}
		return &TreeDisconnectRequest{}
	case CommandCreate:
		if response {
			return &CreateResponse{}
		}
		return &CreateRequest{}
	case CommandClose:
		if response {
			return &CloseResponse{}
		}
		return &CloseRequest{}
	case CommandFlush:
		if response {
			return &FlushResponse{}
		}
		return &FlushRequest{}
	case CommandRead:
		if response {
			return &ReadResponse{}
		}
		return &ReadRequest{}
	case CommandWrite:
		if response {
			return &WriteResponse{}
		}
		return &WriteRequest{}
	case CommandQueryInfo:
		if response {
			return &QueryInfoResponse{}
		}
		return &QueryInfoRequest{}
	}
	return &RawBody{Cmd: command}
}

func expectStructureSize(r *encoder.Reader, cmd uint16, size uint16) error {
	start := r.Position()
	v := r.ReadUint16()
	if err := r.Err(); err != nil {
		return err
	}
	if v != size {
		return decodeErr(CommandName(cmd), start, fmt.Errorf("%w: got %d, want %d", ErrInvalidStructureSize, v, size))
	}
	return nil
}

// emptyBody is the 4 byte StructureSize+Reserved body shared by ECHO,
// CANCEL, LOGOFF and TREE_DISCONNECT.
type emptyBody struct{}

func (emptyBody) Size() int {
	return 4
}

func (emptyBody) Encode(w *encoder.Writer) {
	w.WriteUint16(4)
	w.WriteUint16(0)
}

func decodeEmpty(r *encoder.Reader, cmd uint16) error {
	if err := expectStructureSize(r, cmd, 4); err != nil {
		return err
	}
	r.Skip(2)
	return r.Err()
}

type EchoRequest struct{ emptyBody }
type EchoResponse struct{ emptyBody }
type CancelRequest struct{ emptyBody }
type LogoffRequest struct{ emptyBody }
type LogoffResponse struct{ emptyBody }
type TreeDisconnectRequest struct{ emptyBody }
type TreeDisconnectResponse struct{ emptyBody }

func (*EchoRequest) Command() uint16            { return CommandEcho }
func (*EchoResponse) Command() uint16           { return CommandEcho }
func (*CancelRequest) Command() uint16          { return CommandCancel }
func (*LogoffRequest) Command() uint16          { return CommandLogoff }
func (*LogoffResponse) Command() uint16         { return CommandLogoff }
func (*TreeDisconnectRequest) Command() uint16  { return CommandTreeDisconnect }
func (*TreeDisconnectResponse) Command() uint16 { return CommandTreeDisconnect }

func (b *EchoRequest) Decode(r *encoder.Reader) error    { return decodeEmpty(r, b.Command()) }
func (b *EchoResponse) Decode(r *encoder.Reader) error   { return decodeEmpty(r, b.Command()) }
func (b *CancelRequest) Decode(r *encoder.Reader) error  { return decodeEmpty(r, b.Command()) }
func (b *LogoffRequest) Decode(r *encoder.Reader) error  { return decodeEmpty(r, b.Command()) }
func (b *LogoffResponse) Decode(r *encoder.Reader) error { return decodeEmpty(r, b.Command()) }
func (b *TreeDisconnectRequest) Decode(r *encoder.Reader) error {
	return decodeEmpty(r, b.Command())
}
func (b *TreeDisconnectResponse) Decode(r *encoder.Reader) error {
	return decodeEmpty(r, b.Command())
}

// MS-SMB2 Section 2.2.13 SMB2 CREATE Request. Create contexts are not
// produced.
type CreateRequest struct {
	SecurityFlags        byte
	RequestedOplockLevel byte
	ImpersonationLevel   uint32
	SmbCreateFlags       uint64
	DesiredAccess        uint32
	FileAttributes       uint32
	ShareAccess          uint32
	CreateDisposition    uint32
	CreateOptions        uint32
	Name                 string
}

const createRequestFixedSize = 56

func (*CreateRequest) Command() uint16 { return CommandCreate }

func (b *CreateRequest) Size() int {
	return createRequestFixedSize + max(len(encoder.ToUnicode(b.Name)), 1)
}

func (b *CreateRequest) Encode(w *encoder.Writer) {
	name := encoder.ToUnicode(b.Name)
	w.WriteUint16(57)
	w.WriteUint8(b.SecurityFlags)
	w.WriteUint8(b.RequestedOplockLevel)
	w.WriteUint32(b.ImpersonationLevel)
	w.WriteUint64(b.SmbCreateFlags)
	w.WriteUint64(0)
	w.WriteUint32(b.DesiredAccess)
	w.WriteUint32(b.FileAttributes)
	w.WriteUint32(b.ShareAccess)
	w.WriteUint32(b.CreateDisposition)
	w.WriteUint32(b.CreateOptions)
	w.WriteUint16(HeaderSize + createRequestFixedSize)
	w.WriteUint16(uint16(len(name)))
	w.WriteUint32(0)
	w.WriteUint32(0)
	if len(name) == 0 {
		// The buffer must hold at least one byte
		w.WriteUint8(0)
		return
	}
	w.WriteBytes(name)
}

func (b *CreateRequest) Decode(r *encoder.Reader) error {
	if err := expectStructureSize(r, CommandCreate, 57); err != nil {
		return err
	}
	b.SecurityFlags = r.ReadUint8()
	b.RequestedOplockLevel = r.ReadUint8()
	b.ImpersonationLevel = r.ReadUint32()
	b.SmbCreateFlags = r.ReadUint64()
	r.Skip(8)
	b.DesiredAccess = r.ReadUint32()
	b.FileAttributes = r.ReadUint32()
	b.ShareAccess = r.ReadUint32()
	b.CreateDisposition = r.ReadUint32()
	b.CreateOptions = r.ReadUint32()
	nameOffset := r.ReadUint16()
	nameLength := r.ReadUint16()
	r.Skip(8)
	if r.Err() != nil {
		return r.Err()
	}
	if nameLength == 0 {
		r.Skip(min(1, r.Remaining()))
		return r.Err()
	}
	r.Seek(int(nameOffset))
	name, err := encoder.FromUnicodeString(r.ReadBytes(int(nameLength)))
	if r.Err() != nil {
		return r.Err()
	}
	b.Name = name
	return err
}

// MS-SMB2 Section 2.2.14 SMB2 CREATE Response
type CreateResponse struct {
	OplockLevel    byte
	Flags          byte
	CreateAction   uint32
	CreationTime   uint64
	LastAccessTime uint64
	LastWriteTime  uint64
	ChangeTime     uint64
	AllocationSize uint64
	EndOfFile      uint64
	FileAttributes uint32
	FileID         FileID
	// Contexts holds the undecoded create context chain.
	Contexts []byte
}

const createResponseFixedSize = 88

func (*CreateResponse) Command() uint16 { return CommandCreate }

func (b *CreateResponse) Size() int {
	if len(b.Contexts) == 0 {
		return createResponseFixedSize
	}
	return createResponseFixedSize + len(b.Contexts)
}

func (b *CreateResponse) Encode(w *encoder.Writer) {
	w.WriteUint16(89)
	w.WriteUint8(b.OplockLevel)
	w.WriteUint8(b.Flags)
	w.WriteUint32(b.CreateAction)
	w.WriteUint64(b.CreationTime)
	w.WriteUint64(b.LastAccessTime)
	w.WriteUint64(b.LastWriteTime)
	w.WriteUint64(b.ChangeTime)
	w.WriteUint64(b.AllocationSize)
	w.WriteUint64(b.EndOfFile)
	w.WriteUint32(b.FileAttributes)
	w.WriteUint32(0)
	w.WriteBytes(b.FileID[:])
	if len(b.Contexts) == 0 {
		w.WriteUint32(0)
		w.WriteUint32(0)
		return
	}
	w.WriteUint32(HeaderSize + createResponseFixedSize)
	w.WriteUint32(uint32(len(b.Contexts)))
	w.WriteBytes(b.Contexts)
}

func (b *CreateResponse) Decode(r *encoder.Reader) error {
	if err := expectStructureSize(r, CommandCreate, 89); err != nil {
		return err
	}
	b.OplockLevel = r.ReadUint8()
	b.Flags = r.ReadUint8()
	b.CreateAction = r.ReadUint32()
	b.CreationTime = r.ReadUint64()
	b.LastAccessTime = r.ReadUint64()
	b.LastWriteTime = r.ReadUint64()
	b.ChangeTime = r.ReadUint64()
	b.AllocationSize = r.ReadUint64()
	b.EndOfFile = r.ReadUint64()
	b.FileAttributes = r.ReadUint32()
	r.Skip(4)
	r.ReadInto(b.FileID[:])
	offset := r.ReadUint32()
	length := r.ReadUint32()
	if r.Err() != nil || length == 0 {
		return r.Err()
	}
	r.Seek(int(offset))
	b.Contexts = r.ReadBytes(int(length))
	return r.Err()
}

// MS-SMB2 Section 2.2.15 SMB2 CLOSE Request
type CloseRequest struct {
	Flags  uint16
	FileID FileID
}

func (*CloseRequest) Command() uint16 { return CommandClose }
func (*CloseRequest) Size() int       { return 24 }

func (b *CloseRequest) Encode(w *encoder.Writer) {
	w.WriteUint16(24)
	w.WriteUint16(b.Flags)
	w.WriteUint32(0)
	w.WriteBytes(b.FileID[:])
}

func (b *CloseRequest) Decode(r *encoder.Reader) error {
	if err := expectStructureSize(r, CommandClose, 24); err != nil {
		return err
	}
	b.Flags = r.ReadUint16()
	r.Skip(4)
	r.ReadInto(b.FileID[:])
	return r.Err()
}

// MS-SMB2 Section 2.2.16 SMB2 CLOSE Response
type CloseResponse struct {
	Flags          uint16
	CreationTime   uint64
	LastAccessTime uint64
	LastWriteTime  uint64
	ChangeTime     uint64
	AllocationSize uint64
	EndOfFile      uint64
	FileAttributes uint32
}

func (*CloseResponse) Command() uint16 { return CommandClose }
func (*CloseResponse) Size() int       { return 60 }

func (b *CloseResponse) Encode(w *encoder.Writer) {
	w.WriteUint16(60)
	w.WriteUint16(b.Flags)
	w.WriteUint32(0)
	w.WriteUint64(b.CreationTime)
	w.WriteUint64(b.LastAccessTime)
	w.WriteUint64(b.LastWriteTime)
	w.WriteUint64(b.ChangeTime)
	w.WriteUint64(b.AllocationSize)
	w.WriteUint64(b.EndOfFile)
	w.WriteUint32(b.FileAttributes)
}

func (b *CloseResponse) Decode(r *encoder.Reader) error {
	if err := expectStructureSize(r, CommandClose, 60); err != nil {
		return err
	}
	b.Flags = r.ReadUint16()
	r.Skip(4)
	b.CreationTime = r.ReadUint64()
	b.LastAccessTime = r.ReadUint64()
	b.LastWriteTime = r.ReadUint64()
	b.ChangeTime = r.ReadUint64()
	b.AllocationSize = r.ReadUint64()
	b.EndOfFile = r.ReadUint64()
	b.FileAttributes = r.ReadUint32()
	return r.Err()
}

// MS-SMB2 Section 2.2.17 SMB2 FLUSH Request
type FlushRequest struct {
	FileID FileID
}

func (*FlushRequest) Command() uint16 { return CommandFlush }
func (*FlushRequest) Size() int       { return 24 }

func (b *FlushRequest) Encode(w *encoder.Writer) {
	w.WriteUint16(24)
	w.WriteUint16(0)
	w.WriteUint32(0)
	w.WriteBytes(b.FileID[:])
}

func (b *FlushRequest) Decode(r *encoder.Reader) error {
	if err := expectStructureSize(r, CommandFlush, 24); err != nil {
		return err
	}
	r.Skip(6)
	r.ReadInto(b.FileID[:])
	return r.Err()
}

type FlushResponse struct{ emptyBody }

func (*FlushResponse) Command() uint16 { return CommandFlush }
func (b *FlushResponse) Decode(r *encoder.Reader) error {
	return decodeEmpty(r, CommandFlush)
}

// MS-SMB2 Section 2.2.19 SMB2 READ Request
type ReadRequest struct {
	Padding        uint8
	Flags          uint8
	Length         uint32
	Offset         uint64
	FileID         FileID
	MinimumCount   uint32
	RemainingBytes uint32
}

func (*ReadRequest) Command() uint16 { return CommandRead }

// Size includes the one byte buffer the request must carry.
func (*ReadRequest) Size() int { return 49 }

func (b *ReadRequest) PayloadSize() int { return int(b.Length) }

func (b *ReadRequest) Encode(w *encoder.Writer) {
	w.WriteUint16(49)
	w.WriteUint8(b.Padding)
	w.WriteUint8(b.Flags)
	w.WriteUint32(b.Length)
	w.WriteUint64(b.Offset)
	w.WriteBytes(b.FileID[:])
	w.WriteUint32(b.MinimumCount)
	w.WriteUint32(0) // Channel
	w.WriteUint32(b.RemainingBytes)
	w.WriteUint16(0)
	w.WriteUint16(0)
	w.WriteUint8(0)
}

func (b *ReadRequest) Decode(r *encoder.Reader) error {
	if err := expectStructureSize(r, CommandRead, 49); err != nil {
		return err
	}
	b.Padding = r.ReadUint8()
	b.Flags = r.ReadUint8()
	b.Length = r.ReadUint32()
	b.Offset = r.ReadUint64()
	r.ReadInto(b.FileID[:])
	b.MinimumCount = r.ReadUint32()
	r.Skip(4)
	b.RemainingBytes = r.ReadUint32()
	r.Skip(4)
	r.Skip(min(1, r.Remaining()))
	return r.Err()
}

// MS-SMB2 Section 2.2.20 SMB2 READ Response
type ReadResponse struct {
	DataRemaining uint32
	Data          []byte
}

const readResponseFixedSize = 16

func (*ReadResponse) Command() uint16 { return CommandRead }

func (b *ReadResponse) Size() int {
	return readResponseFixedSize + max(len(b.Data), 1)
}

func (*ReadResponse) AcceptsStatus(status uint32) bool {
	return status == StatusBufferOverflow
}

func (b *ReadResponse) Encode(w *encoder.Writer) {
	w.WriteUint16(17)
	w.WriteUint8(HeaderSize + readResponseFixedSize)
	w.WriteUint8(0)
	w.WriteUint32(uint32(len(b.Data)))
	w.WriteUint32(b.DataRemaining)
	w.WriteUint32(0)
	if len(b.Data) == 0 {
		w.WriteUint8(0)
		return
	}
	w.WriteBytes(b.Data)
}

func (b *ReadResponse) Decode(r *encoder.Reader) error {
	if err := expectStructureSize(r, CommandRead, 17); err != nil {
		return err
	}
	offset := r.ReadUint8()
	r.Skip(1)
	length := r.ReadUint32()
	b.DataRemaining = r.ReadUint32()
	r.Skip(4)
	if r.Err() != nil {
		return r.Err()
	}
	if length == 0 {
		b.Data = nil
		r.Skip(min(1, r.Remaining()))
		return r.Err()
	}
	r.Seek(int(offset))
	b.Data = r.ReadBytes(int(length))
	return r.Err()
}

// MS-SMB2 Section 2.2.21 SMB2 WRITE Request
type WriteRequest struct {
	Offset         uint64
	FileID         FileID
	RemainingBytes uint32
	Flags          uint32
	Data           []byte
}

const writeRequestFixedSize = 48

func (*WriteRequest) Command() uint16 { return CommandWrite }

func (b *WriteRequest) Size() int {
	return writeRequestFixedSize + max(len(b.Data), 1)
}

func (b *WriteRequest) PayloadSize() int { return len(b.Data) }

func (b *WriteRequest) Encode(w *encoder.Writer) {
	w.WriteUint16(49)
	w.WriteUint16(HeaderSize + writeRequestFixedSize)
	w.WriteUint32(uint32(len(b.Data)))
	w.WriteUint64(b.Offset)
	w.WriteBytes(b.FileID[:])
	w.WriteUint32(0) // Channel
	w.WriteUint32(b.RemainingBytes)
	w.WriteUint16(0)
	w.WriteUint16(0)
	w.WriteUint32(b.Flags)
	if len(b.Data) == 0 {
		w.WriteUint8(0)
		return
	}
	w.WriteBytes(b.Data)
}

func (b *WriteRequest) Decode(r *encoder.Reader) error {
	if err := expectStructureSize(r, CommandWrite, 49); err != nil {
		return err
	}
	offset := r.ReadUint16()
	length := r.ReadUint32()
	b.Offset = r.ReadUint64()
	r.ReadInto(b.FileID[:])
	r.Skip(4)
	b.RemainingBytes = r.ReadUint32()
	r.Skip(4)
	b.Flags = r.ReadUint32()
	if r.Err() != nil {
		return r.Err()
	}
	if length == 0 {
		r.Skip(min(1, r.Remaining()))
		return r.Err()
	}
	r.Seek(int(offset))
	b.Data = r.ReadBytes(int(length))
	return r.Err()
}

// MS-SMB2 Section 2.2.22 SMB2 WRITE Response
type WriteResponse struct {
	Count     uint32
	Remaining uint32
}

func (*WriteResponse) Command() uint16 { return CommandWrite }
func (*WriteResponse) Size() int       { return 16 }

func (b *WriteResponse) Encode(w *encoder.Writer) {
	w.WriteUint16(17)
	w.WriteUint16(0)
	w.WriteUint32(b.Count)
	w.WriteUint32(b.Remaining)
	w.WriteUint16(0)
	w.WriteUint16(0)
}

func (b *WriteResponse) Decode(r *encoder.Reader) error {
	if err := expectStructureSize(r, CommandWrite, 17); err != nil {
		return err
	}
	r.Skip(2)
	b.Count = r.ReadUint32()
	b.Remaining = r.ReadUint32()
	r.Skip(4)
	return r.Err()
}

// MS-SMB2 Section 2.2.37 SMB2 QUERY_INFO Request
type QueryInfoRequest struct {
	InfoType              byte
	FileInfoClass         byte
	OutputBufferLength    uint32
	AdditionalInformation uint32
	Flags                 uint32
	FileID                FileID
	Input                 []byte
}

const queryInfoRequestFixedSize = 40

func (*QueryInfoRequest) Command() uint16 { return CommandQueryInfo }

func (b *QueryInfoRequest) Size() int {
	return queryInfoRequestFixedSize + max(len(b.Input), 1)
}

func (b *QueryInfoRequest) PayloadSize() int {
	return max(int(b.OutputBufferLength), len(b.Input))
}

func (b *QueryInfoRequest) Encode(w *encoder.Writer) {
	w.WriteUint16(41)
	w.WriteUint8(b.InfoType)
	w.WriteUint8(b.FileInfoClass)
	w.WriteUint32(b.OutputBufferLength)
	if len(b.Input) > 0 {
		w.WriteUint16(HeaderSize + queryInfoRequestFixedSize)
	} else {
		w.WriteUint16(0)
	}
	w.WriteUint16(0)
	w.WriteUint32(uint32(len(b.Input)))
	w.WriteUint32(b.AdditionalInformation)
	w.WriteUint32(b.Flags)
	w.WriteBytes(b.FileID[:])
	if len(b.Input) == 0 {
		w.WriteUint8(0)
		return
	}
	w.WriteBytes(b.Input)
}

func (b *QueryInfoRequest) Decode(r *encoder.Reader) error {
	if err := expectStructureSize(r, CommandQueryInfo, 41); err != nil {
		return err
	}
	b.InfoType = r.ReadUint8()
	b.FileInfoClass = r.ReadUint8()
	b.OutputBufferLength = r.ReadUint32()
	offset := r.ReadUint16()
	r.Skip(2)
	length := r.ReadUint32()
	b.AdditionalInformation = r.ReadUint32()
	b.Flags = r.ReadUint32()
	r.ReadInto(b.FileID[:])
	if r.Err() != nil {
		return r.Err()
	}
	if length == 0 {
		r.Skip(min(1, r.Remaining()))
		return r.Err()
	}
	r.Seek(int(offset))
	b.Input = r.ReadBytes(int(length))
	return r.Err()
}

// MS-SMB2 Section 2.2.38 SMB2 QUERY_INFO Response
type QueryInfoResponse struct {
	Output []byte
}

const queryInfoResponseFixedSize = 8

func (*QueryInfoResponse) Command() uint16 { return CommandQueryInfo }

func (b *QueryInfoResponse) Size() int {
	return queryInfoResponseFixedSize + max(len(b.Output), 1)
}

func (*QueryInfoResponse) AcceptsStatus(status uint32) bool {
	return status == StatusBufferOverflow
}

func (b *QueryInfoResponse) Encode(w *encoder.Writer) {
	w.WriteUint16(9)
	w.WriteUint16(HeaderSize + queryInfoResponseFixedSize)
	w.WriteUint32(uint32(len(b.Output)))
	if len(b.Output) == 0 {
		w.WriteUint8(0)
		return
	}
	w.WriteBytes(b.Output)
}

func (b *QueryInfoResponse) Decode(r *encoder.Reader) error {
	if err := expectStructureSize(r, CommandQueryInfo, 9); err != nil {
		return err
	}
	offset := r.ReadUint16()
	length := r.ReadUint32()
	if r.Err() != nil {
		return r.Err()
	}
	if length == 0 {
		r.Skip(min(1, r.Remaining()))
		return r.Err()
	}
	r.Seek(int(offset))
	b.Output = r.ReadBytes(int(length))
	return r.Err()
}

// RawBody passes the body bytes of commands without a codec through
// unchanged.
type RawBody struct {
	Cmd  uint16
	Data []byte
}

func (b *RawBody) Command() uint16 { return b.Cmd }
func (b *RawBody) Size() int       { return len(b.Data) }

func (b *RawBody) Encode(w *encoder.Writer) {
	w.WriteBytes(b.Data)
}

func (b *RawBody) Decode(r *encoder.Reader) error {
	b.Data = r.ReadBytes(r.Remaining())
	return r.Err()
}
