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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

/*
Code taken from NIST SP 800-108 Section 5.1
KDF in counter mode.

MS-SMB2 Section 3.1.4.2:
r = 32
If Connection.CipherId is AES-128-CCM or AES-128-GCM, 'L' value is initialized to 128. If
Connection.CipherId is AES-256-CCM or AES-256-GCM, 'L' value is initialized to 256.
The PRF used in the key derivation MUST be HMAC-SHA256
which means that h = 256.

From NIST SP 800-108:
Parameters
h: length of output in bits
r: Length of binary representation of counter i
Input
Ki, Label, Context, and L

Process:
1. n := L/h.
2. If n > 2r−1, then output an error indicator and stop (i.e., skip steps 3, 4, and 5).
3. result:= ∅.
4. For i = 1 to n, do
    a. K(i) := PRF (KI, [i]2 || Label || 0x00 || Context || [L]2),
    b. result = result || K(i).
5. KO := the leftmost L bits of result.
*/

func kdf(ki, label, context []byte, L uint32) ([]byte, error) {
	if L != 128 && L != 256 {
		return nil, fmt.Errorf("smb: kdf: unsupported L value %d, only 128 or 256", L)
	}
	h := hmac.New(sha256.New, ki)

	// L/h is either 0.5 or 1 so there is a single lap with i = 1.
	h.Write([]byte{0, 0, 0, 1})
	// K(i) := PRF (KI, [i] || Label || 0x00 || Context || [L])
	h.Write(label)
	h.Write([]byte{0x00})
	h.Write(context)
	h.Write(binary.BigEndian.AppendUint32(nil, L))

	return h.Sum(nil)[:L/8], nil
}

// Labels and contexts from MS-SMB2 Section 3.2.5.3.1
var (
	labelSigning30     = []byte("SMB2AESCMAC\x00")
	contextSigning30   = []byte("SmbSign\x00")
	labelSigning311    = []byte("SMBSigningKey\x00")
	labelEncryption30  = []byte("SMB2AESCCM\x00")
	contextEncryption  = []byte("ServerIn \x00")
	contextDecryption  = []byte("ServerOut\x00")
	labelEncryption311 = []byte("SMBC2SCipherKey\x00")
	labelDecryption311 = []byte("SMBS2CCipherKey\x00")
)

func keyBits(cipherID uint16) uint32 {
	if cipherID == AES256CCM || cipherID == AES256GCM {
		return 256
	}
	return 128
}

// DeriveEncryptionKey returns the client to server key for the dialect and
// cipher. preauth is the session's preauth integrity hash and is only used
// by 3.1.1.
func DeriveEncryptionKey(dialect, cipherID uint16, sessionKey, preauth []byte) ([]byte, error) {
	switch {
	case dialect >= DialectSmb_3_1_1:
		return kdf(sessionKey, labelEncryption311, preauth, keyBits(cipherID))
	case dialect >= DialectSmb_3_0:
		return kdf(sessionKey, labelEncryption30, contextEncryption, 128)
	}
	return nil, fmt.Errorf("%w: 0x%04x has no encryption", ErrUnsupportedDialect, dialect)
}

// DeriveDecryptionKey returns the server to client key.
func DeriveDecryptionKey(dialect, cipherID uint16, sessionKey, preauth []byte) ([]byte, error) {
	switch {
	case dialect >= DialectSmb_3_1_1:
		return kdf(sessionKey, labelDecryption311, preauth, keyBits(cipherID))
	case dialect >= DialectSmb_3_0:
		return kdf(sessionKey, labelEncryption30, contextDecryption, 128)
	}
	return nil, fmt.Errorf("%w: 0x%04x has no encryption", ErrUnsupportedDialect, dialect)
}

// DeriveSigningKey returns the signing key. SMB 2.x signs with the session
// key itself.
func DeriveSigningKey(dialect uint16, sessionKey, preauth []byte) ([]byte, error) {
	switch {
	case dialect >= DialectSmb_3_1_1:
		return kdf(sessionKey, labelSigning311, preauth, 128)
	case dialect >= DialectSmb_3_0:
		return kdf(sessionKey, labelSigning30, contextSigning30, 128)
	}
	return append([]byte(nil), sessionKey...), nil
}
