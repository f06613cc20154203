// Package session orchestrates one end-to-end transfer: the filename
// handshake, the window-driven body transfer, and the EOF exchange, wiring
// together wire, arq, reassembly, fsio, and report behind a single blocking
// Run-to-completion entry point per side.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/arqfile/urft/arq"
	"github.com/arqfile/urft/fsio"
	"github.com/arqfile/urft/metrics"
	"github.com/arqfile/urft/report"
	"github.com/arqfile/urft/transport"
	"github.com/arqfile/urft/urftcfg"
	"github.com/arqfile/urft/wire"
)

// maxHandshakeAttempts and maxEOFAttempts mirror the reference
// implementation's fixed retry budgets for the two stop-and-wait exchanges
// that bracket the windowed body transfer.
const (
	maxHandshakeAttempts = 5
	maxEOFAttempts       = 10
)

// SenderSession drives the sending side of one transfer over an already
// connected socket.
type SenderSession struct {
	cfg     *urftcfg.Config
	sock    transport.Socket
	path    string
	log     *log.Logger
	metrics *metrics.Registry
}

// NewSenderSession builds a SenderSession that will transfer the file at
// path, identified to the receiver by its base name only.
func NewSenderSession(cfg *urftcfg.Config, sock transport.Socket, path string, logger *log.Logger, reg *metrics.Registry) *SenderSession {
	return &SenderSession{cfg: cfg, sock: sock, path: path, log: logger, metrics: reg}
}

// Run performs the handshake, transfers the file body, exchanges EOF, and
// returns a summary for display. It returns a *HandshakeError if the
// filename exchange never completes, or a *AbortError for any failure
// afterward.
func (s *SenderSession) Run(ctx context.Context) (*report.Summary, error) {
	start := time.Now()
	basename := filepath.Base(s.path)

	if err := s.handshake(ctx, basename); err != nil {
		return nil, &HandshakeError{Err: err}
	}
	s.log.Info("handshake complete", "filename", basename)

	chunks, size, err := fsio.ReadChunks(s.path, s.cfg.Protocol.PayloadSize)
	if err != nil {
		return nil, &AbortError{Err: err}
	}
	s.log.Info("file partitioned", "chunks", len(chunks), "bytes", size)

	sender := arq.NewSender(arq.Params{
		WindowSize: s.cfg.Protocol.WindowSize,
		Timeout:    s.cfg.Timeout(),
		MaxRetries: s.cfg.Protocol.MaxRetries,
	}, s.sock, chunks, s.log, s.metrics)

	if err := sender.Run(ctx); err != nil {
		return nil, &AbortError{Err: err}
	}

	lost := sender.Lost()
	if len(lost) > 0 {
		s.log.Warn("sequences abandoned via SKIP", "count", len(lost))
	}

	if err := s.finalizeEOF(ctx, sender.Next(), lost); err != nil {
		return nil, &AbortError{Err: err}
	}

	sum, err := fsio.HashFile(s.path)
	if err != nil {
		return nil, &AbortError{Err: err}
	}

	stats := sender.Stats()
	return &report.Summary{
		Role:            "send",
		Filename:        basename,
		Bytes:           size,
		Duration:        time.Since(start),
		Retransmissions: stats.Retransmissions,
		Skips:           uint64(len(lost)),
		LostSequences:   lost,
		MD5:             sum,
		PacketsSent:     stats.PacketsSent,
	}, nil
}

// handshake sends the basename at sequence 0 up to maxHandshakeAttempts
// times, waiting cfg.Timeout() for an ack of 0 after each send.
func (s *SenderSession) handshake(ctx context.Context, basename string) error {
	datagram := wire.EncodeFilename(basename)
	for attempt := 1; attempt <= maxHandshakeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sock.Send(datagram); err != nil {
			s.log.Warn("handshake send failed", "attempt", attempt, "err", err)
			continue
		}

		reply, err := s.sock.Receive(s.cfg.Timeout())
		if err == transport.ErrTimeout {
			s.log.Warn("handshake ack timed out, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			return err
		}

		seq, _, decErr := wire.Decode(reply)
		if decErr != nil || seq != 0 {
			continue // noise or a stale ack: counts as a failed attempt, the filename is resent
		}
		return nil
	}
	return fmt.Errorf("session: no handshake ack after %d attempts", maxHandshakeAttempts)
}

// finalizeEOF sends the EOF marker carrying the sender's lost-sequence
// list, retrying until acked or maxEOFAttempts is exhausted. The lost list
// is delivered best-effort: if every attempt times out, the transfer still
// completed on the wire and the caller proceeds to hash and report.
func (s *SenderSession) finalizeEOF(ctx context.Context, seq uint32, lost []uint32) error {
	datagram := wire.EncodeEOF(seq, lost)
	for attempt := 1; attempt <= maxEOFAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sock.Send(datagram); err != nil {
			s.log.Warn("EOF send failed", "attempt", attempt, "err", err)
			continue
		}

		reply, err := s.sock.Receive(s.cfg.Timeout())
		if err == transport.ErrTimeout {
			continue
		}
		if err != nil {
			return err
		}

		ackSeq, _, decErr := wire.Decode(reply)
		if decErr == nil && ackSeq == seq {
			return nil
		}
	}
	s.log.Warn("EOF never acked, proceeding without confirmation", "attempts", maxEOFAttempts)
	return nil
}
