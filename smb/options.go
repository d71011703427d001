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
	"io"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jfjallid/go-smbwire/smb/keys"
)

// NonceLayout selects how transform nonces are built.
type NonceLayout int

const (
	// NonceLayoutExtended uses a 16 byte GCM nonce (12 random bytes and a
	// 32 bit counter) and a 12 byte CCM nonce (64 bit counter and zeros).
	NonceLayoutExtended NonceLayout = iota
	// NonceLayoutWire uses the MS-SMB2 sizes, 12 byte GCM nonces (8 random
	// bytes and a 32 bit counter) and 11 byte CCM nonces. Required to talk
	// to Windows and Samba.
	NonceLayoutWire
)

const (
	DefaultRotationBytesLimit uint64 = 1 << 30
	DefaultRotationTimeLimit         = 24 * time.Hour
)

type Options struct {
	// RotationBytesLimit is the number of plaintext bytes encrypted under one
	// key before it is rotated. 0 disables the limit.
	RotationBytesLimit uint64
	// RotationTimeLimit is the key lifetime. 0 disables the limit.
	RotationTimeLimit time.Duration `validate:"gte=0"`
	NonceLayout       NonceLayout   `validate:"oneof=0 1"`
	// KeyManager, when set, holds the keys instead of process memory.
	KeyManager keys.Manager `validate:"-"`
	// Random defaults to crypto/rand.Reader.
	Random  io.Reader `validate:"-"`
	Metrics *Metrics  `validate:"-"`
}

func DefaultOptions() Options {
	return Options{
		RotationBytesLimit: DefaultRotationBytesLimit,
		RotationTimeLimit:  DefaultRotationTimeLimit,
		NonceLayout:        NonceLayoutExtended,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateOptions(opt Options) error {
	if err := validate.Struct(opt); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
