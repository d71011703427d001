package smb

import (
	"bytes"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/proxy"
)

func connPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	client, server := NewConn(a), NewConn(b)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func sendAsync(c *Conn, chain *Chain) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Send(chain) }()
	return done
}

func testChain() *Chain {
	chain := NewChain(
		NewPacket(&CreateRequest{Name: "share.txt", DesiredAccess: FAccMaskGenericRead, CreateDisposition: FileOpen}),
		NewPacket(&ReadRequest{Length: 512, FileID: FileIDCompounded}),
		NewPacket(&CloseRequest{FileID: FileIDCompounded}),
	)
	chain.SetSessionID(0x55)
	chain.AssignMessageIDs(1)
	return chain
}

func TestConnPlain(t *testing.T) {
	client, server := connPair(t)
	done := sendAsync(client, testChain())

	got, err := server.Receive()
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, 3, got.Len())
	assert.Equal(t, "share.txt", got.Head().Body.(*CreateRequest).Name)
	assert.Equal(t, uint64(0x55), got.Packets()[2].Header.SessionID)
}

func TestConnSigned(t *testing.T) {
	client, server := connPair(t)
	signer, err := NewSigner(DialectSmb_3_1_1, AES_CMAC, bytes.Repeat([]byte{4}, 16), bytes.Repeat([]byte{5}, 64))
	require.NoError(t, err)
	client.SetSigner(signer)
	server.SetSigner(signer)

	done := sendAsync(client, testChain())
	got, err := server.Receive()
	require.NoError(t, err)
	require.NoError(t, <-done)
	for _, p := range got.Packets() {
		assert.True(t, p.Header.IsSigned())
	}
}

func TestConnSignatureMismatch(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	server := NewConn(b)
	defer server.Close()
	signer, err := NewSigner(DialectSmb_3_0, AES_CMAC, bytes.Repeat([]byte{4}, 16), nil)
	require.NoError(t, err)
	server.SetSigner(signer)

	buf, err := NewChain(NewPacket(&EchoRequest{})).Marshal(signer)
	require.NoError(t, err)
	buf[HeaderSize+2] ^= 1
	go writePacket(a, buf)

	_, err = server.Receive()
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func encryptedPair(t *testing.T, client, server *Conn, serverSession uint64) {
	t.Helper()
	c2s := bytes.Repeat([]byte{0xC2}, 16)
	s2c := bytes.Repeat([]byte{0x2C}, 16)
	opt := DefaultOptions()
	opt.NonceLayout = NonceLayoutWire
	cctx, err := NewEncryptionContext(KeyMaterial{CipherID: AES128GCM, Dialect: DialectSmb_3_1_1, EncryptionKey: c2s, DecryptionKey: s2c}, opt)
	require.NoError(t, err)
	sctx, err := NewEncryptionContext(KeyMaterial{CipherID: AES128GCM, Dialect: DialectSmb_3_1_1, EncryptionKey: s2c, DecryptionKey: c2s}, opt)
	require.NoError(t, err)
	client.SetEncryption(cctx, 0x55)
	server.SetEncryption(sctx, serverSession)
}

func TestConnEncrypted(t *testing.T) {
	client, server := connPair(t)
	encryptedPair(t, client, server, 0x55)

	done := sendAsync(client, testChain())
	got, err := server.Receive()
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, 3, got.Len())

	resp := &Packet{Header: newHeader(CommandEcho), Body: &EchoResponse{}}
	resp.Header.Flags = SMB2_FLAGS_SERVER_TO_REDIR
	resp.Header.SessionID = 0x55
	done = sendAsync(server, NewChain(resp))
	back, err := client.Receive()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.IsType(t, &EchoResponse{}, back.Head().Body)
}

func TestConnEncryptedSessionMismatch(t *testing.T) {
	client, server := connPair(t)
	encryptedPair(t, client, server, 0x66)

	done := sendAsync(client, testChain())
	_, err := server.Receive()
	require.NoError(t, <-done)
	var de *DecryptError
	require.ErrorAs(t, err, &de)
	require.ErrorIs(t, err, ErrSessionMismatch)
}

func TestConnEncryptedWithoutContext(t *testing.T) {
	client, server := connPair(t)
	key := bytes.Repeat([]byte{1}, 16)
	ctx, err := NewEncryptionContext(KeyMaterial{CipherID: AES128CCM, Dialect: DialectSmb_3_1_1, EncryptionKey: key, DecryptionKey: key}, DefaultOptions())
	require.NoError(t, err)
	client.SetEncryption(ctx, 1)

	done := sendAsync(client, testChain())
	_, err = server.Receive()
	require.NoError(t, <-done)
	require.ErrorIs(t, err, ErrNotEncrypted)
}

func TestConnEncryptedRejectsPlaintext(t *testing.T) {
	client, server := connPair(t)
	key := bytes.Repeat([]byte{1}, 16)
	ctx, err := NewEncryptionContext(KeyMaterial{CipherID: AES128GCM, Dialect: DialectSmb_3_1_1, EncryptionKey: key, DecryptionKey: key}, DefaultOptions())
	require.NoError(t, err)
	client.SetEncryption(ctx, 0x55)

	resp := &Packet{Header: newHeader(CommandEcho), Body: &EchoResponse{}}
	resp.Header.Flags = SMB2_FLAGS_SERVER_TO_REDIR
	resp.Header.SessionID = 0x55
	done := sendAsync(server, NewChain(resp))
	got, err := client.Receive()
	require.NoError(t, <-done)
	assert.Nil(t, got)
	var de *DecryptError
	require.ErrorAs(t, err, &de)
	require.ErrorIs(t, err, ErrPlaintextMessage)
}

func TestConnCloseWipesKeys(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := NewConn(a)
	key := bytes.Repeat([]byte{1}, 16)
	ctx, err := NewEncryptionContext(KeyMaterial{CipherID: AES128CCM, Dialect: DialectSmb_3_1_1, EncryptionKey: key, DecryptionKey: key}, DefaultOptions())
	require.NoError(t, err)
	c.SetEncryption(ctx, 1)

	signer, err := NewSigner(DialectSmb_3_1_1, AES_CMAC, key, nil)
	require.NoError(t, err)
	c.SetSigner(signer)

	require.NoError(t, c.Close())
	assert.True(t, ctx.IsClosed())
	require.ErrorIs(t, signer.Sign(make([]byte, HeaderSize)), ErrSignerClosed)
}

func TestConnCustomBodyFactory(t *testing.T) {
	client, server := connPair(t)
	server.SetBodyFactory(func(command uint16, response bool) Body {
		return &RawBody{Cmd: command}
	})
	done := sendAsync(client, NewChain(NewPacket(&EchoRequest{})))
	got, err := server.Receive()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.IsType(t, &RawBody{}, got.Head().Body)
}

func TestPacketFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePacket(&buf, []byte{1, 2, 3}))
	assert.Equal(t, []byte{0, 0, 0, 3, 1, 2, 3}, buf.Bytes())

	pkt, err := readPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, pkt)

	err = writePacket(&buf, make([]byte, maxPacketSize+1))
	require.ErrorIs(t, err, ErrMessageTooLarge)

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], maxPacketSize+1)
	_, err = readPacket(bytes.NewReader(hdr[:]))
	require.Error(t, err)

	_, err = readPacket(bytes.NewReader([]byte{0, 0, 0, 8, 1, 2}))
	require.Error(t, err)
}

func TestDial(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	host, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c, err := Dial(host, port, time.Second, nil)
	require.NoError(t, err)
	c.Close()

	c, err = Dial(host, port, time.Second, proxy.Direct)
	require.NoError(t, err)
	c.Close()
}
