package smb

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfjallid/go-smbwire/smb/keys"
)

// freeze pins the clock used for rotation decisions and key derivation.
func freeze(c *EncryptionContext, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = func() time.Time { return at }
	c.started = at
}

// rotatedPeer returns the other end of a context created by newTestContext
// after its keys were derived for generation gen at time at.
func rotatedPeer(t *testing.T, cipherID uint16, gen uint32, at time.Time) *EncryptionContext {
	t.Helper()
	ki := bytes.Repeat([]byte{0x22}, 16)
	ki = binary.LittleEndian.AppendUint32(ki, gen)
	ki = binary.LittleEndian.AppendUint32(ki, uint32(at.Unix()))
	enc, err := DeriveEncryptionKey(DialectSmb_3_1_1, cipherID, ki, nil)
	require.NoError(t, err)
	dec, err := DeriveDecryptionKey(DialectSmb_3_1_1, cipherID, ki, nil)
	require.NoError(t, err)
	peer, err := NewEncryptionContext(KeyMaterial{
		CipherID:      cipherID,
		Dialect:       DialectSmb_3_1_1,
		EncryptionKey: dec,
		DecryptionKey: enc,
	}, DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })
	return peer
}

func needsRotation(t *testing.T, c *EncryptionContext, extra uint64) bool {
	t.Helper()
	due, err := c.NeedsRotation(extra)
	require.NoError(t, err)
	return due
}

func TestRotationOnByteLimit(t *testing.T) {
	opt := DefaultOptions()
	opt.RotationBytesLimit = 1000
	c := newTestContext(t, AES128GCM, opt)
	at := time.Unix(1700000000, 0)
	freeze(c, at)

	before, err := c.Encrypt(make([]byte, 600), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c.Generation())

	// 600 + 600 crosses the limit so the keys rotate first
	after, err := c.Encrypt(make([]byte, 600), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Generation())
	assert.Equal(t, uint64(600), c.BytesEncrypted())
	assert.Equal(t, uint64(1), c.NonceCounter())
	assert.Equal(t, uint64(1), c.Stats().Rotations[TriggerBytes])

	peer := rotatedPeer(t, AES128GCM, 1, at)
	got, err := peer.Decrypt(after)
	require.NoError(t, err)
	assert.Len(t, got, 600)
	_, err = peer.Decrypt(before)
	require.ErrorIs(t, err, ErrAuthentication)

	// Messages from the peer decrypt under the rotated decryption key
	reply, err := peer.Encrypt([]byte("reply"), 1)
	require.NoError(t, err)
	got, err = c.Decrypt(reply)
	require.NoError(t, err)
	assert.Equal(t, []byte("reply"), got)
}

func TestRotationOversizedMessage(t *testing.T) {
	opt := DefaultOptions()
	opt.RotationBytesLimit = 100
	c := newTestContext(t, AES128CCM, opt)
	at := time.Unix(1700000000, 0)
	freeze(c, at)

	out, err := c.Encrypt(make([]byte, 500), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Generation())
	assert.Equal(t, uint64(500), c.BytesEncrypted())

	_, err = rotatedPeer(t, AES128CCM, 1, at).Decrypt(out)
	require.NoError(t, err)

	// The next message rotates again
	_, err = c.Encrypt([]byte("x"), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c.Generation())
}

func TestRotationWithoutSessionKey(t *testing.T) {
	opt := DefaultOptions()
	opt.RotationBytesLimit = 10
	key := bytes.Repeat([]byte{5}, 16)
	c, err := NewEncryptionContext(KeyMaterial{CipherID: AES128GCM, Dialect: DialectSmb_3_1_1, EncryptionKey: key, DecryptionKey: key}, opt)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Encrypt(make([]byte, 5), 1)
	require.NoError(t, err)

	_, err = c.Encrypt(make([]byte, 5), 1)
	var re *RotationError
	require.ErrorAs(t, err, &re)
	require.ErrorIs(t, err, ErrNoSessionKey)
	// Nothing was encrypted by the failed call
	assert.Equal(t, uint64(5), c.BytesEncrypted())
	assert.Equal(t, uint64(1), c.NonceCounter())
	assert.True(t, needsRotation(t, c, 5))
	assert.False(t, needsRotation(t, c, 4))
}

func TestRotationOnTimeLimit(t *testing.T) {
	opt := DefaultOptions()
	opt.RotationTimeLimit = time.Hour
	c := newTestContext(t, AES256GCM, opt)
	start := time.Unix(1700000000, 0)
	freeze(c, start)

	_, err := c.Encrypt([]byte("early"), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c.Generation())

	later := start.Add(time.Hour)
	c.mu.Lock()
	c.now = func() time.Time { return later }
	c.mu.Unlock()
	assert.True(t, needsRotation(t, c, 0))

	out, err := c.Encrypt([]byte("late"), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Generation())
	assert.Equal(t, uint64(1), c.Stats().Rotations[TriggerTime])
	assert.Zero(t, c.Stats().Age)

	_, err = rotatedPeer(t, AES256GCM, 1, later).Decrypt(out)
	require.NoError(t, err)
}

func TestRotationOnNonceExhaustion(t *testing.T) {
	c := newTestContext(t, AES128GCM, DefaultOptions())
	c.nonceCounter.Store(math.MaxUint32)

	_, err := c.Encrypt([]byte("x"), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Generation())
	assert.Equal(t, uint64(1), c.NonceCounter())
	assert.Equal(t, uint64(1), c.Stats().Rotations[TriggerNonce])

	// CCM nonces carry a 64 bit counter and do not force a rotation
	ccm := newTestContext(t, AES128CCM, DefaultOptions())
	ccm.nonceCounter.Store(math.MaxUint32)
	_, err = ccm.Encrypt([]byte("x"), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ccm.Generation())
}

func TestRotationDerivesDistinctKeys(t *testing.T) {
	opt := DefaultOptions()
	opt.RotationBytesLimit = 1
	c := newTestContext(t, AES256GCM, opt)
	at := time.Unix(1700000000, 0)
	freeze(c, at)

	var outs [][]byte
	for i := 0; i < 3; i++ {
		out, err := c.Encrypt([]byte("ab"), 1)
		require.NoError(t, err)
		outs = append(outs, out)
	}
	assert.Equal(t, uint64(3), c.Generation())

	for gen := 1; gen <= 3; gen++ {
		peer := rotatedPeer(t, AES256GCM, uint32(gen), at)
		for i, out := range outs {
			_, err := peer.Decrypt(out)
			if i == gen-1 {
				require.NoError(t, err, "generation %d", gen)
			} else {
				require.ErrorIs(t, err, ErrAuthentication, "generation %d, message %d", gen, i)
			}
		}
	}
}

func TestConcurrentEncryptAcrossRotations(t *testing.T) {
	opt := DefaultOptions()
	opt.RotationBytesLimit = 256
	c := newTestContext(t, AES128GCM, opt)
	at := time.Unix(1700000000, 0)
	freeze(c, at)

	const workers, perWorker, size = 8, 6, 64
	outs := make([][]byte, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				msg := bytes.Repeat([]byte{byte(w*perWorker + i)}, size)
				out, err := c.Encrypt(msg, 1)
				if !assert.NoError(t, err) {
					return
				}
				outs[w*perWorker+i] = out
			}
		}(w)
	}
	wg.Wait()

	gens := int(c.Generation())
	// 4 messages reach the limit, so every generation holds at most 3
	require.GreaterOrEqual(t, gens, len(outs)/3-1)
	peers := []*EncryptionContext{newTestContext(t, AES128GCM, DefaultOptions())}
	for g := 1; g <= gens; g++ {
		peers = append(peers, rotatedPeer(t, AES128GCM, uint32(g), at))
	}

	type sealed struct {
		gen   int
		nonce [16]byte
	}
	seen := make(map[sealed]bool)
	perGen := make(map[int]int)
	for i, out := range outs {
		require.NotNil(t, out)
		th, _, err := DecodeTransformHeader(out, 0)
		require.NoError(t, err)
		opened := -1
		for g, peer := range peers {
			got, err := peer.Decrypt(out)
			if err != nil {
				continue
			}
			require.Equal(t, -1, opened, "message %d opens under two generations", i)
			assert.Equal(t, bytes.Repeat([]byte{byte(i)}, size), got)
			opened = g
		}
		require.NotEqual(t, -1, opened, "message %d opens under no generation", i)
		key := sealed{gen: opened, nonce: th.Nonce}
		assert.False(t, seen[key], "nonce reused in generation %d", opened)
		seen[key] = true
		perGen[opened]++
	}
	for g, n := range perGen {
		assert.LessOrEqual(t, n*size, 256-size, "generation %d over the byte limit", g)
	}
	assert.Equal(t, uint64(gens), c.Stats().Rotations[TriggerBytes])
}

func TestManualRotate(t *testing.T) {
	c := newTestContext(t, AES256CCM, DefaultOptions())
	_, err := c.Encrypt(make([]byte, 64), 1)
	require.NoError(t, err)

	err = c.Rotate(make([]byte, 16), make([]byte, 32))
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	require.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, uint64(0), c.Generation())

	newKey := bytes.Repeat([]byte{0x44}, 32)
	require.NoError(t, c.Rotate(newKey, newKey))
	assert.Equal(t, uint64(1), c.Generation())
	assert.Zero(t, c.BytesEncrypted())
	assert.Zero(t, c.NonceCounter())
	assert.Equal(t, uint64(1), c.Stats().Rotations[TriggerManual])

	other, err := NewEncryptionContext(KeyMaterial{CipherID: AES256CCM, Dialect: DialectSmb_3_1_1, EncryptionKey: newKey, DecryptionKey: newKey}, DefaultOptions())
	require.NoError(t, err)
	defer other.Close()
	out, err := c.Encrypt([]byte("rotated"), 1)
	require.NoError(t, err)
	got, err := other.Decrypt(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("rotated"), got)
}

func TestSecureWipe(t *testing.T) {
	mgr := keys.NewLocalManager()
	opt := DefaultOptions()
	opt.KeyManager = mgr
	c := newTestContext(t, AES128GCM, opt)
	assert.Len(t, mgr.IDs(), 2)

	sessionKey := c.sessionKey
	require.False(t, keys.IsZero(sessionKey))

	require.NoError(t, c.SecureWipe())
	assert.True(t, c.IsClosed())
	assert.True(t, keys.IsZero(sessionKey))
	assert.Empty(t, mgr.IDs())
	assert.Nil(t, c.encrypter)
	assert.Nil(t, c.decrypter)

	// Idempotent
	require.NoError(t, c.SecureWipe())
	require.NoError(t, c.Close())

	var pe *PreconditionError
	_, err := c.Encrypt([]byte("x"), 1)
	require.ErrorAs(t, err, &pe)
	require.ErrorIs(t, err, ErrContextClosed)
	_, err = c.Decrypt(make([]byte, 60))
	require.ErrorIs(t, err, ErrContextClosed)
	err = c.Rotate(make([]byte, 16), make([]byte, 16))
	require.ErrorIs(t, err, ErrContextClosed)
	_, err = c.NeedsRotation(math.MaxUint32)
	require.ErrorIs(t, err, ErrContextClosed)
	err = c.SetRotationLimits(1, time.Second)
	require.ErrorAs(t, err, &pe)
	require.ErrorIs(t, err, ErrContextClosed)
	require.ErrorIs(t, c.SetRotationBytesLimit(1), ErrContextClosed)
	require.ErrorIs(t, c.SetRotationTimeLimit(time.Second), ErrContextClosed)
	assert.Equal(t, DefaultRotationBytesLimit, c.Stats().BytesLimit)
	assert.True(t, c.Stats().Closed)
}

func TestRotationDestroysOldKeys(t *testing.T) {
	mgr := keys.NewLocalManager()
	opt := DefaultOptions()
	opt.KeyManager = mgr
	c := newTestContext(t, AES128CCM, opt)
	first := mgr.IDs()
	require.Len(t, first, 2)

	require.NoError(t, c.Rotate(bytes.Repeat([]byte{1}, 16), bytes.Repeat([]byte{2}, 16)))
	second := mgr.IDs()
	require.Len(t, second, 2)
	for _, id := range first {
		assert.NotContains(t, second, id)
	}
	assert.ElementsMatch(t, []string{c.encID, c.decID}, second)
}

func TestRotationLimitSetters(t *testing.T) {
	c := newTestContext(t, AES128GCM, DefaultOptions())
	s := c.Stats()
	assert.Equal(t, DefaultRotationBytesLimit, s.BytesLimit)
	assert.Equal(t, DefaultRotationTimeLimit, s.TimeLimit)

	require.NoError(t, c.SetRotationLimits(4096, time.Minute))
	s = c.Stats()
	assert.Equal(t, uint64(4096), s.BytesLimit)
	assert.Equal(t, time.Minute, s.TimeLimit)

	require.ErrorIs(t, c.SetRotationLimits(1, -time.Second), ErrNegativeTimeLimit)
	require.ErrorIs(t, c.SetRotationTimeLimit(-time.Second), ErrNegativeTimeLimit)
	assert.Equal(t, uint64(4096), c.Stats().BytesLimit)

	require.NoError(t, c.SetRotationBytesLimit(0))
	require.NoError(t, c.SetRotationTimeLimit(0))
	assert.False(t, needsRotation(t, c, math.MaxUint32))

	require.NoError(t, c.SetRotationBytesLimit(10))
	assert.True(t, needsRotation(t, c, 10))
}

func TestStatsString(t *testing.T) {
	c := newTestContext(t, AES128GCM, DefaultOptions())
	_, err := c.Encrypt(make([]byte, 2048), 1)
	require.NoError(t, err)
	s := c.Stats().String()
	assert.Contains(t, s, "AES-128-GCM generation 0")
	assert.Contains(t, s, "2.0 KiB of 1.0 GiB encrypted")

	require.NoError(t, c.SetRotationBytesLimit(0))
	assert.Contains(t, c.Stats().String(), "of unlimited")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	opt := DefaultOptions()
	opt.Metrics = NewMetrics(reg)
	opt.RotationBytesLimit = 100
	c := newTestContext(t, AES128CCM, opt)

	out, err := c.Encrypt(make([]byte, 60), 1)
	require.NoError(t, err)
	_, err = c.Decrypt(out)
	require.NoError(t, err)
	_, err = c.Encrypt(make([]byte, 60), 1)
	require.NoError(t, err)
	out[60] ^= 1
	_, err = c.Decrypt(out)
	require.Error(t, err)

	m := opt.Metrics
	assert.Equal(t, float64(120), testutil.ToFloat64(m.bytes.WithLabelValues("encrypt")))
	assert.Equal(t, float64(60), testutil.ToFloat64(m.bytes.WithLabelValues("decrypt")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.messages.WithLabelValues("encrypt", "AES-128-CCM")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rotations.WithLabelValues(TriggerBytes)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.failures.WithLabelValues("authentication")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.recordEncrypt(AES128GCM, 1)
		nilMetrics.recordRotation(TriggerManual)
	})
}
