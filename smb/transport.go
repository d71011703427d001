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
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// Direct TCP transport (MS-SMB2 2.1): a zero byte and a 24 bit big endian
// length precede every message.
const maxPacketSize = 0x00FFFFFF

func writePacket(w io.Writer, pkt []byte) error {
	if len(pkt) > maxPacketSize {
		return fmt.Errorf("smb: %w: %d bytes exceeds the transport limit", ErrMessageTooLarge, len(pkt))
	}
	buf := make([]byte, 4+len(pkt))
	binary.BigEndian.PutUint32(buf, uint32(len(pkt)))
	copy(buf[4:], pkt)
	_, err := w.Write(buf)
	return err
}

func readPacket(r io.Reader) (packet []byte, err error) {
	var size uint32
	if err = binary.Read(r, binary.BigEndian, &size); err != nil {
		if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
			log.Debugf("Error reading packet: %s\n", err)
		}
		return
	}

	if size > maxPacketSize {
		err = fmt.Errorf("smb: invalid direct TCP message length 0x%08x", size)
		log.Errorln(err)
		return nil, err
	}

	packet = make([]byte, size)
	if _, err = io.ReadFull(r, packet); err != nil {
		log.Errorln(err)
		return nil, err
	}
	return
}

// Conn moves chains over one connection. It encrypts outgoing chains when an
// EncryptionContext is set and signs them otherwise when a Signer is set.
// Message ids, credits and request matching are left to the caller.
type Conn struct {
	conn      net.Conn
	wm        sync.Mutex
	rm        sync.Mutex
	m         sync.RWMutex
	enc       *EncryptionContext
	sessionID uint64
	signer    Signer
	factory   BodyFactory
}

// Dial connects to host:port directly or through dialer, as the proxy options
// of the client do.
func Dial(host string, port int, timeout time.Duration, dialer proxy.Dialer) (*Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var conn net.Conn
	var err error
	if dialer != nil {
		if cd, ok := dialer.(proxy.ContextDialer); ok && timeout > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			conn, err = cd.DialContext(ctx, "tcp", addr)
		} else {
			conn, err = dialer.Dial("tcp", addr)
		}
	} else {
		conn, err = net.DialTimeout("tcp", addr, timeout)
	}
	if err != nil {
		log.Errorln(err)
		return nil, err
	}
	log.Debugf("Connected to %s\n", addr)
	return NewConn(conn), nil
}

func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, factory: NewBody}
}

// SetEncryption makes every following Send encrypt for sessionID and every
// Receive require a transform message. The Conn takes ownership of ctx and
// closes it in Close.
func (c *Conn) SetEncryption(ctx *EncryptionContext, sessionID uint64) {
	c.m.Lock()
	defer c.m.Unlock()
	c.enc = ctx
	c.sessionID = sessionID
}

// SetSigner signs every following unencrypted Send and verifies every
// unencrypted Receive. The Conn takes ownership of s and closes it in Close.
func (c *Conn) SetSigner(s Signer) {
	c.m.Lock()
	defer c.m.Unlock()
	c.signer = s
}

// SetBodyFactory replaces NewBody for decoding received messages.
func (c *Conn) SetBodyFactory(f BodyFactory) {
	c.m.Lock()
	defer c.m.Unlock()
	c.factory = f
}

func (c *Conn) state() (*EncryptionContext, uint64, Signer, BodyFactory) {
	c.m.RLock()
	defer c.m.RUnlock()
	return c.enc, c.sessionID, c.signer, c.factory
}

// Send marshals the chain and writes it as one transport message.
func (c *Conn) Send(chain *Chain) error {
	enc, sessionID, signer, _ := c.state()
	var buf []byte
	var err error
	if enc != nil {
		// Encryption replaces signing
		if buf, err = chain.Marshal(nil); err != nil {
			return err
		}
		if buf, err = enc.Encrypt(buf, sessionID); err != nil {
			return err
		}
	} else if buf, err = chain.Marshal(signer); err != nil {
		return err
	}

	c.wm.Lock()
	defer c.wm.Unlock()
	if err = writePacket(c.conn, buf); err != nil {
		log.Errorln(err)
	}
	return err
}

// Receive reads one transport message and decodes it as a compound response.
func (c *Conn) Receive() (*Chain, error) {
	c.rm.Lock()
	pkt, err := readPacket(c.conn)
	c.rm.Unlock()
	if err != nil {
		return nil, err
	}

	enc, sessionID, signer, factory := c.state()
	encrypted := IsTransformMessage(pkt)
	if !encrypted && enc != nil {
		err = ErrPlaintextMessage
		log.Errorln(err)
		return nil, &DecryptError{Err: err}
	}
	if encrypted {
		if enc == nil {
			return nil, &DecryptError{Err: ErrNotEncrypted}
		}
		th, _, err := DecodeTransformHeader(pkt, 0)
		if err != nil {
			return nil, &DecryptError{Err: err}
		}
		if th.SessionID != sessionID {
			err = fmt.Errorf("%w: got 0x%x, want 0x%x", ErrSessionMismatch, th.SessionID, sessionID)
			log.Errorln(err)
			return nil, &DecryptError{Err: err}
		}
		if pkt, err = enc.Decrypt(pkt); err != nil {
			return nil, err
		}
	}

	chain, err := UnmarshalChain(pkt, factory, true)
	if err != nil {
		log.Errorln(err)
		return nil, err
	}
	if !encrypted && signer != nil {
		if err := chain.verify(pkt, signer); err != nil {
			log.Errorln(err)
			return nil, err
		}
	}
	return chain, nil
}

// Close closes the connection and wipes the encryption context and the
// signing key.
func (c *Conn) Close() error {
	c.m.Lock()
	enc, signer := c.enc, c.signer
	c.enc, c.signer = nil, nil
	c.m.Unlock()
	var errs []error
	if enc != nil {
		errs = append(errs, enc.Close())
	}
	if signer != nil {
		errs = append(errs, signer.Close())
	}
	errs = append(errs, c.conn.Close())
	return errors.Join(errs...)
}
