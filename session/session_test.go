package session

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/arqfile/urft/transport"
	"github.com/arqfile/urft/urftcfg"
	"github.com/arqfile/urft/wire"
)

func testLogger(t *testing.T) *log.Logger {
	return log.NewWithOptions(testWriter{t}, log.Options{Level: log.WarnLevel})
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

func testConfig(timeout time.Duration) *urftcfg.Config {
	cfg := urftcfg.Default()
	cfg.Protocol.TimeoutMs = int(timeout / time.Millisecond)
	if cfg.Protocol.TimeoutMs < 1 {
		cfg.Protocol.TimeoutMs = 1
	}
	return cfg
}

// fakeSocket is a transport.Socket double for exercising SenderSession's
// handshake and EOF finalization without a real UDP socket.
type fakeSocket struct {
	mu     sync.Mutex
	sent   [][]byte
	inbox  [][]byte
	onSend func(datagram []byte)
}

func (f *fakeSocket) Send(datagram []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, append([]byte{}, datagram...))
	f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(datagram)
	}
	return nil
}

func (f *fakeSocket) Receive(time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		return nil, transport.ErrTimeout
	}
	p := f.inbox[0]
	f.inbox = f.inbox[1:]
	return p, nil
}

func (f *fakeSocket) push(datagram []byte) {
	f.mu.Lock()
	f.inbox = append(f.inbox, datagram)
	f.mu.Unlock()
}

func (f *fakeSocket) LocalAddr() net.Addr { return nil }
func (f *fakeSocket) Close() error        { return nil }

func TestSenderHandshakeSucceedsOnFirstAck(t *testing.T) {
	sock := &fakeSocket{}
	sock.onSend = func(datagram []byte) {
		seq, _, err := wire.Decode(datagram)
		require.NoError(t, err)
		require.Zero(t, seq)
		sock.push(wire.EncodeAck(0))
	}

	s := NewSenderSession(testConfig(10*time.Millisecond), sock, "file.bin", testLogger(t), nil)
	require.NoError(t, s.handshake(context.Background(), "file.bin"))
	require.Len(t, sock.sent, 1)
}

func TestSenderHandshakeGivesUpAfterMaxAttempts(t *testing.T) {
	sock := &fakeSocket{} // never acks
	s := NewSenderSession(testConfig(2*time.Millisecond), sock, "file.bin", testLogger(t), nil)

	err := s.handshake(context.Background(), "file.bin")
	require.Error(t, err)
	require.Len(t, sock.sent, maxHandshakeAttempts)
}

func TestSenderFinalizeEOFRetriesUntilAcked(t *testing.T) {
	sock := &fakeSocket{}
	attempts := 0
	sock.onSend = func(datagram []byte) {
		attempts++
		if attempts < 3 {
			return // drop the first two EOF sends
		}
		seq, _, _ := wire.Decode(datagram)
		sock.push(wire.EncodeAck(seq))
	}

	s := NewSenderSession(testConfig(5*time.Millisecond), sock, "file.bin", testLogger(t), nil)
	require.NoError(t, s.finalizeEOF(context.Background(), 4, nil))
	require.Equal(t, 3, attempts)
}

func TestSenderFinalizeEOFGivesUpGracefully(t *testing.T) {
	sock := &fakeSocket{} // never acks
	s := NewSenderSession(testConfig(1*time.Millisecond), sock, "file.bin", testLogger(t), nil)

	require.NoError(t, s.finalizeEOF(context.Background(), 4, []uint32{2}))
	require.Len(t, sock.sent, maxEOFAttempts)
}

func TestSenderRunReportsHandshakeError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	sock := &fakeSocket{} // never acks the handshake
	s := NewSenderSession(testConfig(1*time.Millisecond), sock, path, testLogger(t), nil)

	_, err := s.Run(context.Background())
	require.Error(t, err)
	var handshakeErr *HandshakeError
	require.ErrorAs(t, err, &handshakeErr)
}

// fakePeerSocket is a transport.PeerSocket double for exercising
// ReceiverSession's handshake.
type fakePeerSocket struct {
	mu    sync.Mutex
	inbox []struct {
		datagram []byte
		addr     *net.UDPAddr
	}
	acked []uint32
}

var testPeerAddr = &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}

func (f *fakePeerSocket) push(datagram []byte, addr *net.UDPAddr) {
	f.mu.Lock()
	f.inbox = append(f.inbox, struct {
		datagram []byte
		addr     *net.UDPAddr
	}{datagram, addr})
	f.mu.Unlock()
}

func (f *fakePeerSocket) ReceiveFrom(time.Duration) ([]byte, *net.UDPAddr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		return nil, nil, transport.ErrTimeout
	}
	item := f.inbox[0]
	f.inbox = f.inbox[1:]
	return item.datagram, item.addr, nil
}

func (f *fakePeerSocket) SendTo(payload []byte, _ *net.UDPAddr) error {
	seq, _, err := wire.Decode(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.acked = append(f.acked, seq)
	f.mu.Unlock()
	return nil
}

func (f *fakePeerSocket) LocalAddr() net.Addr { return testPeerAddr }
func (f *fakePeerSocket) Close() error        { return nil }

func TestReceiverHandshakeAcceptsValidFilename(t *testing.T) {
	sock := &fakePeerSocket{}
	sock.push(wire.EncodeFilename("photo.jpg"), testPeerAddr)

	r := NewReceiverSession(testConfig(5*time.Millisecond), sock, t.TempDir(), testLogger(t), nil)
	name, addr, err := r.handshake(context.Background())
	require.NoError(t, err)
	require.Equal(t, "photo.jpg", name)
	require.Equal(t, testPeerAddr, addr)
	require.Len(t, sock.acked, 3)
}

func TestReceiverHandshakeRejectsPathTraversal(t *testing.T) {
	sock := &fakePeerSocket{}
	sock.push(wire.EncodeFilename("../../etc/passwd"), testPeerAddr)
	sock.push(wire.EncodeFilename("legit.bin"), testPeerAddr)

	r := NewReceiverSession(testConfig(5*time.Millisecond), sock, t.TempDir(), testLogger(t), nil)
	name, _, err := r.handshake(context.Background())
	require.NoError(t, err)
	require.Equal(t, "legit.bin", name)
}

func TestReceiverHandshakeRejectsEmptyName(t *testing.T) {
	sock := &fakePeerSocket{}
	sock.push(wire.EncodeFilename("   "), testPeerAddr)
	sock.push(wire.EncodeFilename("ok.bin"), testPeerAddr)

	r := NewReceiverSession(testConfig(5*time.Millisecond), sock, t.TempDir(), testLogger(t), nil)
	name, _, err := r.handshake(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok.bin", name)
}

func TestReceiverHandshakeContextCancellation(t *testing.T) {
	sock := &fakePeerSocket{} // never sends anything
	r := NewReceiverSession(testConfig(2*time.Millisecond), sock, t.TempDir(), testLogger(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := r.handshake(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValidateBasenameRejectsNul(t *testing.T) {
	_, err := validateBasename([]byte("bad\x00name"))
	require.Error(t, err)
}

func TestValidateBasenameTrimsWhitespace(t *testing.T) {
	name, err := validateBasename([]byte("  report.csv  "))
	require.NoError(t, err)
	require.Equal(t, "report.csv", name)
}
