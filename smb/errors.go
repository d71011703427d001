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
)

// Structural decoding failures.
var (
	ErrShortBuffer          = errors.New("buffer too short")
	ErrInvalidProtocolID    = errors.New("invalid protocol id")
	ErrInvalidStructureSize = errors.New("invalid structure size")
	ErrUnalignedNextCommand = errors.New("next command offset is not a multiple of 8")
	ErrNextCommandOverlap   = errors.New("next command offset overlaps the current message")
	ErrInvalidErrorResponse = errors.New("invalid error response")
	ErrMessageSizeMismatch  = errors.New("original message size does not match payload")
	ErrInvalidTransformFlag = errors.New("unexpected transform flags")
)

// Precondition failures.
var (
	ErrUnsupportedCipher  = errors.New("unsupported cipher")
	ErrInvalidKey         = errors.New("invalid key")
	ErrContextClosed      = errors.New("encryption context is closed")
	ErrSignerClosed       = errors.New("signer is closed")
	ErrUnsupportedDialect = errors.New("unsupported dialect")
	ErrMessageTooLarge    = errors.New("message too large")
	ErrNegativeTimeLimit  = errors.New("negative rotation time limit")
)

var (
	ErrAuthentication    = errors.New("message authentication failed")
	ErrNoSessionKey      = errors.New("no session key retained for key rotation")
	ErrNonceExhausted    = errors.New("nonce space exhausted")
	ErrSessionMismatch   = errors.New("transform header session id does not match")
	ErrSignatureMismatch = errors.New("message signature verification failed")
	ErrNotEncrypted      = errors.New("received encrypted message without an encryption context")
	ErrPlaintextMessage  = errors.New("received unencrypted message on an encrypted connection")
)

// DecodeError reports malformed or truncated input. It is never recovered
// from within this package.
type DecodeError struct {
	Op     string
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("smb: decode %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// PreconditionError reports a negotiation or programming error such as an
// unknown cipher, a mis-sized key or use of a closed context.
type PreconditionError struct {
	Op  string
	Err error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("smb: %s: %v", e.Op, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// DecryptError is returned for every failure to unwrap a transformed message.
// The session should be treated as unreliable afterwards.
type DecryptError struct {
	Err error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("smb: decrypt: %v", e.Err)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}

// RotationError is returned when keys are due for rotation but new keys
// cannot be derived.
type RotationError struct {
	Err error
}

func (e *RotationError) Error() string {
	return fmt.Sprintf("smb: key rotation: %v", e.Err)
}

func (e *RotationError) Unwrap() error {
	return e.Err
}

// StatusError carries a non-success NT status from a response header.
type StatusError struct {
	Command uint16
	Status  uint32
}

func (e StatusError) Error() string {
	if err, ok := StatusMap[e.Status]; ok {
		return fmt.Sprintf("smb: %s: %v (0x%08x)", CommandName(e.Command), err, e.Status)
	}
	return fmt.Sprintf("smb: %s: status 0x%08x", CommandName(e.Command), e.Status)
}

func decodeErr(op string, offset int, err error) error {
	return &DecodeError{Op: op, Offset: offset, Err: err}
}
