// MIT License
//
// Copyright (c) 2017 stacktitan
// Copyright (c) 2023 Jimmy Fjällid for extensions beyond login for SMB 2.1
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
Package smb implements the SMB2/SMB3 client message layer: the 64 byte header,
per-command bodies, compound chains, the SMB3 transform (AES-CCM and AES-GCM)
and the lifecycle of the session keys used by it.

A request is built as a Chain of Packets, marshalled in one pass, optionally
signed, and wrapped by an EncryptionContext when the session or share requires
encryption. Responses take the reverse path.
*/
package smb

import (
	"fmt"

	"github.com/jfjallid/golog"
)

var log = golog.Get("github.com/jfjallid/go-smbwire/smb")

const ProtocolSmb2 = "\xFESMB"
const ProtocolTransformHdr = "\xFDSMB"

const (
	StatusOk                     = 0x00000000
	StatusPending                = 0x00000103
	StatusBufferOverflow         = 0x80000005
	StatusNoMoreFiles            = 0x80000006
	StatusInfoLengthMismatch     = 0xc0000004
	StatusInvalidParameter       = 0xc000000d
	StatusNoSuchFile             = 0xc000000f
	StatusEndOfFile              = 0xc0000011
	StatusMoreProcessingRequired = 0xc0000016
	StatusAccessDenied           = 0xc0000022
	StatusObjectNameNotFound     = 0xc0000034
	StatusLogonFailure           = 0xc000006d
	StatusBadNetworkName         = 0xc00000cc
	StatusCancelled              = 0xc0000120
	StatusFileClosed             = 0xc0000128
	StatusUserSessionDeleted     = 0xc0000203
	StatusNetworkSessionExpired  = 0xc000035c
)

var StatusMap = map[uint32]error{
	StatusOk:                     fmt.Errorf("OK"),
	StatusPending:                fmt.Errorf("Status Pending"),
	StatusBufferOverflow:         fmt.Errorf("Response buffer overflow"),
	StatusNoMoreFiles:            fmt.Errorf("No more files"),
	StatusInfoLengthMismatch:     fmt.Errorf("Insuffient size of response buffer"),
	StatusInvalidParameter:       fmt.Errorf("Invalid Parameter"),
	StatusNoSuchFile:             fmt.Errorf("No such file"),
	StatusEndOfFile:              fmt.Errorf("The end-of-file marker has been reached"),
	StatusMoreProcessingRequired: fmt.Errorf("More Processing Required"),
	StatusAccessDenied:           fmt.Errorf("Access denied!"),
	StatusObjectNameNotFound:     fmt.Errorf("Requested file does not exist"),
	StatusLogonFailure:           fmt.Errorf("Logon failed"),
	StatusBadNetworkName:         fmt.Errorf("Bad network name"),
	StatusCancelled:              fmt.Errorf("The request was cancelled"),
	StatusFileClosed:             fmt.Errorf("File closed"),
	StatusUserSessionDeleted:     fmt.Errorf("User session deleted"),
	StatusNetworkSessionExpired:  fmt.Errorf("Network session expired"),
}

const DialectSmb_2_0_2 = 0x0202
const DialectSmb_2_1 = 0x0210
const DialectSmb_3_0 = 0x0300
const DialectSmb_3_0_2 = 0x0302
const DialectSmb_3_1_1 = 0x0311

const (
	CommandNegotiate uint16 = iota
	CommandSessionSetup
	CommandLogoff
	CommandTreeConnect
	CommandTreeDisconnect
	CommandCreate
	CommandClose
	CommandFlush
	CommandRead
	CommandWrite
	CommandLock
	CommandIOCtl
	CommandCancel
	CommandEcho
	CommandQueryDirectory
	CommandChangeNotify
	CommandQueryInfo
	CommandSetInfo
	CommandOplockBreak
)

var commandNames = [...]string{
	"NEGOTIATE", "SESSION_SETUP", "LOGOFF", "TREE_CONNECT", "TREE_DISCONNECT",
	"CREATE", "CLOSE", "FLUSH", "READ", "WRITE", "LOCK", "IOCTL", "CANCEL",
	"ECHO", "QUERY_DIRECTORY", "CHANGE_NOTIFY", "QUERY_INFO", "SET_INFO",
	"OPLOCK_BREAK",
}

func CommandName(cmd uint16) string {
	if int(cmd) < len(commandNames) {
		return commandNames[cmd]
	}
	return fmt.Sprintf("0x%04x", cmd)
}

// MS-SMB2 2.2.1.1 Flags
const (
	SMB2_FLAGS_SERVER_TO_REDIR    uint32 = 0x00000001
	SMB2_FLAGS_ASYNC_COMMAND      uint32 = 0x00000002
	SMB2_FLAGS_RELATED_OPERATIONS uint32 = 0x00000004
	SMB2_FLAGS_SIGNED             uint32 = 0x00000008
	SMB2_FLAGS_PRIORITY_MASK      uint32 = 0x00000070
	SMB2_FLAGS_DFS_OPERATIONS     uint32 = 0x10000000
	SMB2_FLAGS_REPLAY_OPERATIONS  uint32 = 0x20000000
)

// MS-SMB2 Section 2.2.3.1.2 Ciphers
const (
	AES128CCM uint16 = 0x0001
	AES128GCM uint16 = 0x0002
	AES256CCM uint16 = 0x0003
	AES256GCM uint16 = 0x0004
)

// MS-SMB2 Section 2.2.3.1.7 SigningAlgorithms
const (
	HMAC_SHA256 uint16 = 0x0000
	AES_CMAC    uint16 = 0x0001
	AES_GMAC    uint16 = 0x0002
)

// MS-SMB2 Section 2.2.41 Flags, SMB 3.1.1 only
const TransformFlagEncrypted uint16 = 0x0001

// Info types for QUERY_INFO
const (
	InfoTypeFile       byte = 0x01
	InfoTypeFilesystem byte = 0x02
	InfoTypeSecurity   byte = 0x03
	InfoTypeQuota      byte = 0x04
)

const (
	FileAccessInformation   byte = 8
	FileBasicInformation    byte = 4
	FileStandardInformation byte = 5
	FileAllInformation      byte = 18
	FileNetworkOpenInfo     byte = 34
)

// File Create Disposition
const (
	FileSupersede uint32 = iota
	FileOpen
	FileCreate
	FileOpenIf
	FileOverwrite
	FileOverwriteIf
)

const (
	FAccMaskFileReadData        uint32 = 0x00000001
	FAccMaskFileWriteData       uint32 = 0x00000002
	FAccMaskFileReadAttributes  uint32 = 0x00000080
	FAccMaskFileWriteAttributes uint32 = 0x00000100
	FAccMaskReadControl         uint32 = 0x00020000
	FAccMaskSynchronize         uint32 = 0x00100000
	FAccMaskMaximumAllowed      uint32 = 0x02000000
	FAccMaskGenericRead         uint32 = 0x80000000
)

const (
	FileShareRead   uint32 = 0x00000001
	FileShareWrite  uint32 = 0x00000002
	FileShareDelete uint32 = 0x00000004
)

const (
	FileAttrNormal    uint32 = 0x00000080
	FileAttrDirectory uint32 = 0x00000010
)

const (
	ImpersonationLevelImpersonation uint32 = 0x00000002
)

const (
	CloseFlagPostQueryAttrib uint16 = 0x0001
)
