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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jfjallid/go-smbwire/smb/crypto/ccm"
	"github.com/jfjallid/go-smbwire/smb/keys"
)

// All supported ciphers use a 16 byte tag.
const tagSize = 16

// KeyMaterial is what negotiation and session setup hand over to the
// transform layer. SessionKey and PreauthIntegrityHash are optional; without a
// SessionKey the context cannot rotate its keys on its own.
type KeyMaterial struct {
	CipherID             uint16
	Dialect              uint16
	EncryptionKey        []byte
	DecryptionKey        []byte
	SessionKey           []byte
	PreauthIntegrityHash []byte
}

// NewClientKeyMaterial derives the client side keys of an authenticated
// session. 3.0 and 3.0.2 always use AES-128-CCM; from 3.1.1 the cipher is
// chosen from the ones the server offered. The session key and preauth hash
// are copied so the context can rotate on its own.
func NewClientKeyMaterial(dialect uint16, offered []uint16, sessionKey, preauth []byte) (KeyMaterial, error) {
	const op = "client key material"
	if dialect < DialectSmb_3_0 {
		return KeyMaterial{}, &PreconditionError{Op: op, Err: fmt.Errorf("%w: 0x%04x has no encryption", ErrUnsupportedDialect, dialect)}
	}
	if len(sessionKey) == 0 {
		return KeyMaterial{}, &PreconditionError{Op: op, Err: fmt.Errorf("%w: empty session key", ErrInvalidKey)}
	}
	cipherID := AES128CCM
	if dialect >= DialectSmb_3_1_1 {
		var err error
		if cipherID, err = SelectCipher(offered); err != nil {
			log.Errorln(err)
			return KeyMaterial{}, err
		}
	}
	enc, err := DeriveEncryptionKey(dialect, cipherID, sessionKey, preauth)
	if err != nil {
		return KeyMaterial{}, &PreconditionError{Op: op, Err: err}
	}
	dec, err := DeriveDecryptionKey(dialect, cipherID, sessionKey, preauth)
	if err != nil {
		keys.Wipe(enc)
		return KeyMaterial{}, &PreconditionError{Op: op, Err: err}
	}
	log.Debugf("Derived %s keys for dialect 0x%04x\n", CipherName(cipherID), dialect)
	return KeyMaterial{
		CipherID:             cipherID,
		Dialect:              dialect,
		EncryptionKey:        enc,
		DecryptionKey:        dec,
		SessionKey:           append([]byte(nil), sessionKey...),
		PreauthIntegrityHash: append([]byte(nil), preauth...),
	}, nil
}

// EncryptionContext encrypts and decrypts SMB3 transform messages for one
// session or channel and owns the keys doing so.
//
// Encrypt and Decrypt may be called concurrently. Nonce and byte counters are
// atomic, and rotation and Close exclude every other operation while keys are
// swapped or wiped. After Close every operation fails with ErrContextClosed.
type EncryptionContext struct {
	mu     sync.RWMutex
	closed bool

	cipherID uint16
	dialect  uint16
	layout   NonceLayout
	random   io.Reader
	metrics  *Metrics
	now      func() time.Time

	store      keys.Store
	encID      string
	decID      string
	encrypter  cipher.AEAD
	decrypter  cipher.AEAD
	sessionKey []byte
	preauth    []byte

	generation uint64
	started    time.Time
	rotations  map[string]uint64

	nonceCounter   atomic.Uint64
	bytesEncrypted atomic.Uint64
	bytesDecrypted atomic.Uint64
	bytesLimit     atomic.Uint64
	timeLimit      atomic.Int64
}

func checkKeys(cipherID uint16, enc, dec []byte) error {
	size := KeySize(cipherID)
	if size == 0 {
		return fmt.Errorf("%w: 0x%04x", ErrUnsupportedCipher, cipherID)
	}
	if len(enc) != size {
		return fmt.Errorf("%w: encryption key is %d bytes, %s needs %d", ErrInvalidKey, len(enc), CipherName(cipherID), size)
	}
	if len(dec) != size {
		return fmt.Errorf("%w: decryption key is %d bytes, %s needs %d", ErrInvalidKey, len(dec), CipherName(cipherID), size)
	}
	return nil
}

// NewEncryptionContext validates the key material and sets up the ciphers.
// Keys are copied into the configured key store; the caller keeps ownership
// of the slices in km.
func NewEncryptionContext(km KeyMaterial, opt Options) (*EncryptionContext, error) {
	const op = "new encryption context"
	if err := validateOptions(opt); err != nil {
		log.Errorln(err)
		return nil, &PreconditionError{Op: op, Err: err}
	}
	if err := checkKeys(km.CipherID, km.EncryptionKey, km.DecryptionKey); err != nil {
		log.Errorln(err)
		return nil, &PreconditionError{Op: op, Err: err}
	}
	if km.Dialect < DialectSmb_3_0 {
		err := fmt.Errorf("%w: 0x%04x has no encryption", ErrUnsupportedDialect, km.Dialect)
		log.Errorln(err)
		return nil, &PreconditionError{Op: op, Err: err}
	}

	c := &EncryptionContext{
		cipherID:  km.CipherID,
		dialect:   km.Dialect,
		layout:    opt.NonceLayout,
		random:    opt.Random,
		metrics:   opt.Metrics,
		now:       time.Now,
		rotations: make(map[string]uint64),
	}
	if c.random == nil {
		c.random = rand.Reader
	}
	if opt.KeyManager != nil {
		c.store = keys.NewManagerStore(opt.KeyManager)
	} else {
		c.store = keys.NewMemoryStore()
	}
	if len(km.SessionKey) > 0 {
		c.sessionKey = append([]byte(nil), km.SessionKey...)
	}
	if len(km.PreauthIntegrityHash) > 0 {
		c.preauth = append([]byte(nil), km.PreauthIntegrityHash...)
	}
	c.bytesLimit.Store(opt.RotationBytesLimit)
	c.timeLimit.Store(int64(opt.RotationTimeLimit))

	if err := c.install(km.EncryptionKey, km.DecryptionKey); err != nil {
		log.Errorln(err)
		c.store.Close()
		keys.Wipe(c.sessionKey)
		keys.Wipe(c.preauth)
		return nil, fmt.Errorf("smb: %s: %w", op, err)
	}
	c.started = c.now()
	log.Debugf("Created %s encryption context for dialect 0x%04x\n", CipherName(c.cipherID), c.dialect)
	return c, nil
}

func nonceSize(cipherID uint16, layout NonceLayout) int {
	if IsGCM(cipherID) {
		if layout == NonceLayoutWire {
			return 12
		}
		return 16
	}
	if layout == NonceLayoutWire {
		return 11
	}
	return 12
}

func newAEAD(cipherID uint16, layout NonceLayout, key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	ns := nonceSize(cipherID, layout)
	if IsGCM(cipherID) {
		if ns == 12 {
			return cipher.NewGCM(block)
		}
		return cipher.NewGCMWithNonceSize(block, ns)
	}
	return ccm.NewCCMWithNonceAndTagSizes(block, ns, tagSize)
}

func (c *EncryptionContext) loadAEAD(id string) (cipher.AEAD, error) {
	key, err := c.store.Get(id)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe(key)
	return newAEAD(c.cipherID, c.layout, key)
}

// install stores a new key pair under fresh ids, builds the ciphers from the
// store and then destroys the previous pair. Callers hold the write lock or
// own c exclusively.
func (c *EncryptionContext) install(enc, dec []byte) error {
	id := keys.NewID()
	encID, decID := id+"-enc", id+"-dec"
	if err := c.store.Put(encID, enc); err != nil {
		return err
	}
	if err := c.store.Put(decID, dec); err != nil {
		c.store.Delete(encID)
		return err
	}
	encrypter, err := c.loadAEAD(encID)
	var decrypter cipher.AEAD
	if err == nil {
		decrypter, err = c.loadAEAD(decID)
	}
	if err != nil {
		c.store.Delete(encID)
		c.store.Delete(decID)
		return err
	}

	oldEnc, oldDec := c.encID, c.decID
	c.encID, c.decID = encID, decID
	c.encrypter, c.decrypter = encrypter, decrypter
	if oldEnc != "" {
		if err := errors.Join(c.store.Delete(oldEnc), c.store.Delete(oldDec)); err != nil {
			log.Errorf("Failed to destroy previous keys: %v\n", err)
			return err
		}
	}
	return nil
}

// nextNonce builds the nonce for the next message. The counter part makes
// nonces unique under one key even if the random source repeats.
func (c *EncryptionContext) nextNonce() ([]byte, error) {
	n := c.nonceCounter.Add(1)
	nonce := make([]byte, c.encrypter.NonceSize())
	if !IsGCM(c.cipherID) {
		binary.LittleEndian.PutUint64(nonce, n)
		return nonce, nil
	}
	if n > math.MaxUint32 {
		return nil, ErrNonceExhausted
	}
	split := len(nonce) - 4
	if _, err := io.ReadFull(c.random, nonce[:split]); err != nil {
		return nil, fmt.Errorf("smb: nonce: %w", err)
	}
	binary.LittleEndian.PutUint32(nonce[split:], uint32(n))
	return nonce, nil
}

// rotationTrigger returns why keys must be rotated before total plaintext
// bytes have been encrypted, or "" when they need not. Callers hold the lock.
func (c *EncryptionContext) rotationTrigger(total uint64) string {
	if limit := c.bytesLimit.Load(); limit > 0 && total >= limit {
		return TriggerBytes
	}
	if limit := time.Duration(c.timeLimit.Load()); limit > 0 && c.now().Sub(c.started) >= limit {
		return TriggerTime
	}
	if IsGCM(c.cipherID) && c.nonceCounter.Load() >= math.MaxUint32 {
		return TriggerNonce
	}
	return ""
}

func subtract(v *atomic.Uint64, n uint64) {
	v.Add(^(n - 1))
}

// Encrypt wraps plaintext, usually a whole marshalled chain, in a transform
// header. Keys due for rotation are rotated first; if that is impossible the
// message is not encrypted.
func (c *EncryptionContext) Encrypt(plaintext []byte, sessionID uint64) ([]byte, error) {
	if uint64(len(plaintext)) > math.MaxUint32 {
		c.metrics.recordFailure("precondition")
		return nil, &PreconditionError{Op: "encrypt", Err: fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(plaintext))}
	}
	// A message that alone exceeds the byte limit is encrypted under the keys
	// its own rotation installed. A caller that finds the keys already
	// rotated, or the fresh keys already in use, checks the limits again.
	force := false
	for {
		out, trigger, gen, err := c.tryEncrypt(plaintext, sessionID, force)
		if err != nil || trigger == "" {
			return out, err
		}
		log.Warningln("Encryption keys due for rotation,", trigger, "trigger at generation", gen)
		rotated, err := c.rotateAutomatically(trigger, gen)
		if err != nil {
			return nil, err
		}
		force = rotated
	}
}

func (c *EncryptionContext) tryEncrypt(plaintext []byte, sessionID uint64, force bool) (out []byte, trigger string, gen uint64, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.metrics.recordFailure("precondition")
		return nil, "", 0, &PreconditionError{Op: "encrypt", Err: ErrContextClosed}
	}

	// Reserve the bytes first so concurrent callers see each other's usage.
	n := uint64(len(plaintext))
	total := c.bytesEncrypted.Add(n)
	// A forced call goes through only as the first message under fresh keys.
	if trigger = c.rotationTrigger(total); trigger != "" && (!force || total != n) {
		subtract(&c.bytesEncrypted, n)
		return nil, trigger, c.generation, nil
	}

	out, err = c.seal(plaintext, sessionID)
	if err != nil {
		subtract(&c.bytesEncrypted, n)
		if errors.Is(err, ErrNonceExhausted) {
			if !force {
				return nil, TriggerNonce, c.generation, nil
			}
			err = &RotationError{Err: err}
		}
		c.metrics.recordFailure("encrypt")
		log.Errorln(err)
		return nil, "", 0, err
	}
	c.metrics.recordEncrypt(c.cipherID, len(plaintext))
	return out, "", 0, nil
}

func (c *EncryptionContext) seal(plaintext []byte, sessionID uint64) ([]byte, error) {
	nonce, err := c.nextNonce()
	if err != nil {
		return nil, err
	}
	th := TransformHeader{
		OriginalMessageSize: uint32(len(plaintext)),
		Flags:               transformFlags(c.dialect, c.cipherID),
		SessionID:           sessionID,
	}
	copy(th.Nonce[:], nonce)

	out := make([]byte, TransformHeaderSize+len(plaintext)+tagSize)
	if _, err := th.Encode(out, 0); err != nil {
		return nil, err
	}
	aad := out[transformAADOffset:TransformHeaderSize]
	sealed := c.encrypter.Seal(out[TransformHeaderSize:TransformHeaderSize], nonce, plaintext, aad)
	// The tag travels in the signature field
	copy(out[4:20], sealed[len(plaintext):])
	return out[:TransformHeaderSize+len(plaintext)], nil
}

// Decrypt verifies and decrypts a transform message and returns the inner
// plaintext. Every failure is a *DecryptError; the message must be dropped and
// the session treated as unreliable.
func (c *EncryptionContext) Decrypt(transformed []byte) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.metrics.recordFailure("precondition")
		return nil, &PreconditionError{Op: "decrypt", Err: ErrContextClosed}
	}

	th, _, err := DecodeTransformHeader(transformed, 0)
	if err != nil {
		c.metrics.recordFailure("decode")
		log.Errorln(err)
		return nil, &DecryptError{Err: err}
	}
	payload := transformed[TransformHeaderSize:]
	if int(th.OriginalMessageSize) != len(payload) {
		c.metrics.recordFailure("decode")
		err = decodeErr("transform header", 36, fmt.Errorf("%w: header says %d, payload is %d", ErrMessageSizeMismatch, th.OriginalMessageSize, len(payload)))
		log.Errorln(err)
		return nil, &DecryptError{Err: err}
	}
	if want := transformFlags(c.dialect, c.cipherID); th.Flags != want {
		c.metrics.recordFailure("decode")
		err = decodeErr("transform header", 42, fmt.Errorf("%w: 0x%04x, want 0x%04x", ErrInvalidTransformFlag, th.Flags, want))
		log.Errorln(err)
		return nil, &DecryptError{Err: err}
	}

	buf := make([]byte, len(payload)+tagSize)
	copy(buf, payload)
	copy(buf[len(payload):], th.Signature[:])
	nonce := th.Nonce[:c.decrypter.NonceSize()]
	plaintext, err := c.decrypter.Open(buf[:0], nonce, buf, transformed[transformAADOffset:TransformHeaderSize])
	if err != nil {
		c.metrics.recordFailure("authentication")
		log.Errorf("Failed to decrypt message for session 0x%x: %v\n", th.SessionID, err)
		return nil, &DecryptError{Err: fmt.Errorf("%w: %v", ErrAuthentication, err)}
	}
	c.bytesDecrypted.Add(uint64(len(plaintext)))
	c.metrics.recordDecrypt(c.cipherID, len(plaintext))
	return plaintext, nil
}

// Rotate replaces both keys, resets the usage counters and the rotation clock
// and wipes the previous keys.
func (c *EncryptionContext) Rotate(newEncryptionKey, newDecryptionKey []byte) error {
	if err := checkKeys(c.cipherID, newEncryptionKey, newDecryptionKey); err != nil {
		log.Errorln(err)
		return &PreconditionError{Op: "rotate", Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &PreconditionError{Op: "rotate", Err: ErrContextClosed}
	}
	if err := c.rotateLocked(newEncryptionKey, newDecryptionKey, TriggerManual); err != nil {
		return &RotationError{Err: err}
	}
	return nil
}

func (c *EncryptionContext) rotateLocked(enc, dec []byte, trigger string) error {
	if err := checkKeys(c.cipherID, enc, dec); err != nil {
		return err
	}
	used := c.bytesEncrypted.Load()
	if err := c.install(enc, dec); err != nil {
		c.metrics.recordFailure("rotation")
		log.Errorln(err)
		return err
	}
	c.bytesEncrypted.Store(0)
	c.nonceCounter.Store(0)
	c.started = c.now()
	c.generation++
	c.rotations[trigger]++
	c.metrics.recordRotation(trigger)
	log.Infof("Rotated %s keys to generation %d (%s trigger, %s encrypted under previous keys)\n", CipherName(c.cipherID), c.generation, trigger, humanize.IBytes(used))
	return nil
}

// rotateAutomatically derives the next generation of keys from the retained
// session key. seen is the generation the caller found due; if another caller
// rotated in the meantime nothing is done and false is returned.
func (c *EncryptionContext) rotateAutomatically(trigger string, seen uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, &PreconditionError{Op: "rotate", Err: ErrContextClosed}
	}
	if c.generation != seen {
		return false, nil
	}
	if len(c.sessionKey) == 0 {
		c.metrics.recordFailure("rotation")
		log.Errorf("Key rotation due (%s trigger) but no session key is retained\n", trigger)
		return false, &RotationError{Err: ErrNoSessionKey}
	}
	enc, dec, err := c.deriveNextKeys()
	if err != nil {
		c.metrics.recordFailure("rotation")
		log.Errorln(err)
		return false, &RotationError{Err: err}
	}
	defer keys.Wipe(enc)
	defer keys.Wipe(dec)
	if err := c.rotateLocked(enc, dec, trigger); err != nil {
		return false, &RotationError{Err: err}
	}
	return true, nil
}

// deriveNextKeys runs the dialect KDF over
// sessionKey || LE32(generation+1) || LE32(unix seconds).
func (c *EncryptionContext) deriveNextKeys() (enc, dec []byte, err error) {
	ki := make([]byte, 0, len(c.sessionKey)+8)
	ki = append(ki, c.sessionKey...)
	ki = binary.LittleEndian.AppendUint32(ki, uint32(c.generation+1))
	ki = binary.LittleEndian.AppendUint32(ki, uint32(c.now().Unix()))
	defer keys.Wipe(ki)

	enc, err = DeriveEncryptionKey(c.dialect, c.cipherID, ki, c.preauth)
	if err != nil {
		return nil, nil, err
	}
	dec, err = DeriveDecryptionKey(c.dialect, c.cipherID, ki, c.preauth)
	if err != nil {
		keys.Wipe(enc)
		return nil, nil, err
	}
	return enc, dec, nil
}

// NeedsRotation reports whether encrypting extra more bytes would hit a
// rotation limit.
func (c *EncryptionContext) NeedsRotation(extra uint64) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false, &PreconditionError{Op: "needs rotation", Err: ErrContextClosed}
	}
	return c.rotationTrigger(c.bytesEncrypted.Load()+extra) != "", nil
}

// Close wipes all key material and makes the context unusable. It is safe to
// call more than once.
func (c *EncryptionContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.encrypter, c.decrypter = nil, nil
	err := errors.Join(c.store.Delete(c.encID), c.store.Delete(c.decID), c.store.Close())
	c.encID, c.decID = "", ""
	keys.Wipe(c.sessionKey)
	keys.Wipe(c.preauth)
	c.sessionKey, c.preauth = nil, nil
	if err != nil {
		log.Errorf("Failed to destroy keys: %v\n", err)
	}
	log.Debugf("Closed %s encryption context at generation %d\n", CipherName(c.cipherID), c.generation)
	return err
}

// SecureWipe is Close.
func (c *EncryptionContext) SecureWipe() error {
	return c.Close()
}

func (c *EncryptionContext) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Generation is the number of rotations so far.
func (c *EncryptionContext) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func (c *EncryptionContext) BytesEncrypted() uint64 {
	return c.bytesEncrypted.Load()
}

func (c *EncryptionContext) NonceCounter() uint64 {
	return c.nonceCounter.Load()
}

func (c *EncryptionContext) CipherID() uint16 {
	return c.cipherID
}

func (c *EncryptionContext) Dialect() uint16 {
	return c.dialect
}

// SetRotationLimits changes both limits. They apply from the next usage
// check. A zero value disables the limit.
func (c *EncryptionContext) SetRotationLimits(bytes uint64, d time.Duration) error {
	const op = "set rotation limits"
	if d < 0 {
		return &PreconditionError{Op: op, Err: fmt.Errorf("%w: %s", ErrNegativeTimeLimit, d)}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return &PreconditionError{Op: op, Err: ErrContextClosed}
	}
	c.bytesLimit.Store(bytes)
	c.timeLimit.Store(int64(d))
	log.Noticef("Key rotation limits set to %s / %s\n", humanize.IBytes(bytes), d)
	return nil
}

func (c *EncryptionContext) SetRotationBytesLimit(bytes uint64) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return &PreconditionError{Op: "set rotation byte limit", Err: ErrContextClosed}
	}
	c.bytesLimit.Store(bytes)
	log.Noticef("Key rotation byte limit set to %s\n", humanize.IBytes(bytes))
	return nil
}

func (c *EncryptionContext) SetRotationTimeLimit(d time.Duration) error {
	const op = "set rotation time limit"
	if d < 0 {
		return &PreconditionError{Op: op, Err: fmt.Errorf("%w: %s", ErrNegativeTimeLimit, d)}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return &PreconditionError{Op: op, Err: ErrContextClosed}
	}
	c.timeLimit.Store(int64(d))
	log.Noticef("Key rotation time limit set to %s\n", d)
	return nil
}

// Stats is a snapshot of an EncryptionContext's usage.
type Stats struct {
	CipherID       uint16
	Generation     uint64
	BytesEncrypted uint64
	BytesDecrypted uint64
	NonceCounter   uint64
	Age            time.Duration
	BytesLimit     uint64
	TimeLimit      time.Duration
	Rotations      map[string]uint64
	Closed         bool
}

func (c *EncryptionContext) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{
		CipherID:       c.cipherID,
		Generation:     c.generation,
		BytesEncrypted: c.bytesEncrypted.Load(),
		BytesDecrypted: c.bytesDecrypted.Load(),
		NonceCounter:   c.nonceCounter.Load(),
		Age:            c.now().Sub(c.started),
		BytesLimit:     c.bytesLimit.Load(),
		TimeLimit:      time.Duration(c.timeLimit.Load()),
		Rotations:      make(map[string]uint64, len(c.rotations)),
		Closed:         c.closed,
	}
	for k, v := range c.rotations {
		s.Rotations[k] = v
	}
	return s
}

func (s Stats) String() string {
	limit := "unlimited"
	if s.BytesLimit > 0 {
		limit = humanize.IBytes(s.BytesLimit)
	}
	return fmt.Sprintf("%s generation %d: %s of %s encrypted, %s decrypted, %d nonces, age %s, closed %v",
		CipherName(s.CipherID), s.Generation, humanize.IBytes(s.BytesEncrypted), limit,
		humanize.IBytes(s.BytesDecrypted), s.NonceCounter, s.Age.Truncate(time.Second), s.Closed)
}
