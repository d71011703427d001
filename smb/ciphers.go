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
	"runtime"
	"slices"

	"golang.org/x/sys/cpu"
)

// KeySize returns the key length in bytes for a cipher id, or 0 if the cipher
// is not supported.
func KeySize(cipherID uint16) int {
	switch cipherID {
	case AES128CCM, AES128GCM:
		return 16
	case AES256CCM, AES256GCM:
		return 32
	}
	return 0
}

func IsGCM(cipherID uint16) bool {
	return cipherID == AES128GCM || cipherID == AES256GCM
}

func CipherName(cipherID uint16) string {
	switch cipherID {
	case AES128CCM:
		return "AES-128-CCM"
	case AES128GCM:
		return "AES-128-GCM"
	case AES256CCM:
		return "AES-256-CCM"
	case AES256GCM:
		return "AES-256-GCM"
	}
	return fmt.Sprintf("unknown cipher 0x%04x", cipherID)
}

// hasGCMAcceleration reports whether AES and carry-less multiplication are
// available in hardware.
func hasGCMAcceleration() bool {
	switch runtime.GOARCH {
	case "amd64", "386":
		return cpu.X86.HasAES && cpu.X86.HasPCLMULQDQ
	case "arm64":
		return cpu.ARM64.HasAES && cpu.ARM64.HasPMULL
	case "s390x":
		return cpu.S390X.HasAESGCM
	}
	return false
}

// PreferredCiphers returns the cipher ids to offer in a negotiate request,
// most preferred first. GCM goes first when the CPU accelerates it.
func PreferredCiphers() []uint16 {
	if hasGCMAcceleration() {
		return []uint16{AES128GCM, AES128CCM, AES256GCM, AES256CCM}
	}
	return []uint16{AES128CCM, AES128GCM, AES256CCM, AES256GCM}
}

// SelectCipher picks the most preferred cipher the server offered in its
// encryption capabilities.
func SelectCipher(offered []uint16) (uint16, error) {
	for _, c := range PreferredCiphers() {
		if slices.Contains(offered, c) {
			return c, nil
		}
	}
	return 0, &PreconditionError{Op: "select cipher", Err: fmt.Errorf("%w: none of %v", ErrUnsupportedCipher, offered)}
}
