package session

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/arqfile/urft/fsio"
	"github.com/arqfile/urft/metrics"
	"github.com/arqfile/urft/reassembly"
	"github.com/arqfile/urft/report"
	"github.com/arqfile/urft/transport"
	"github.com/arqfile/urft/urftcfg"
	"github.com/arqfile/urft/wire"
)

// ReceiverSession drives the receiving side of one transfer: it waits
// indefinitely for a sender to initiate the filename handshake, then
// reassembles the body into outputDir.
type ReceiverSession struct {
	cfg       *urftcfg.Config
	sock      transport.PeerSocket
	outputDir string
	log       *log.Logger
	metrics   *metrics.Registry
}

// NewReceiverSession builds a ReceiverSession writing received files under
// outputDir.
func NewReceiverSession(cfg *urftcfg.Config, sock transport.PeerSocket, outputDir string, logger *log.Logger, reg *metrics.Registry) *ReceiverSession {
	return &ReceiverSession{cfg: cfg, sock: sock, outputDir: outputDir, log: logger, metrics: reg}
}

// Run blocks until a sender completes a handshake and the subsequent
// transfer finishes, is abandoned, or ctx is cancelled.
func (r *ReceiverSession) Run(ctx context.Context) (*report.Summary, error) {
	start := time.Now()

	basename, peer, err := r.handshake(ctx)
	if err != nil {
		return nil, &HandshakeError{Err: err}
	}
	r.log.Info("handshake complete", "filename", basename, "peer", peer)

	outPath := filepath.Join(r.outputDir, basename)
	writer, err := fsio.NewWriter(outPath)
	if err != nil {
		return nil, &AbortError{Err: err}
	}

	recv := reassembly.NewReceiver(reassembly.Params{
		Timeout:           r.cfg.Timeout(),
		InactivityTimeout: r.cfg.InactivityTimeout(),
	}, r.sock, peer, writer, r.log, r.metrics)

	runErr := recv.Run(ctx)
	closeErr := writer.Close()
	if runErr != nil {
		return nil, &AbortError{Err: runErr}
	}
	if closeErr != nil {
		return nil, &AbortError{Err: closeErr}
	}

	sum, err := fsio.HashFile(outPath)
	if err != nil {
		return nil, &AbortError{Err: err}
	}

	stats := recv.Stats()
	return &report.Summary{
		Role:            "recv",
		Filename:        basename,
		Bytes:           int64(stats.ReceivedBytes),
		Duration:        time.Since(start),
		Duplicates:      stats.Duplicates,
		OutOfOrder:      stats.OutOfOrder,
		MD5:             sum,
		PacketsReceived: stats.PacketsReceived,
	}, nil
}

// handshake waits, with no attempt limit, for a well-formed sequence-0
// filename datagram, rejecting anything that fails validateBasename and
// triple-acking the first one that passes.
func (r *ReceiverSession) handshake(ctx context.Context) (string, *net.UDPAddr, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}

		datagram, addr, err := r.sock.ReceiveFrom(r.cfg.Timeout())
		if err == transport.ErrTimeout {
			continue
		}
		if err != nil {
			return "", nil, err
		}

		seq, payload, decErr := wire.Decode(datagram)
		if decErr != nil || seq != 0 {
			continue
		}

		basename, err := validateBasename(payload)
		if err != nil {
			r.log.Warn("rejected handshake attempt", "err", err)
			continue
		}

		ack := wire.EncodeAck(0)
		for i := 0; i < 3; i++ {
			if err := r.sock.SendTo(ack, addr); err != nil {
				r.log.Warn("handshake ack send failed", "err", err)
			}
		}
		return basename, addr, nil
	}
}

// validateBasename rejects anything that is not a single, literal path
// component: empty names, embedded NULs, and anything filepath.Base would
// alter, which rules out separators and "..".
func validateBasename(payload []byte) (string, error) {
	name := strings.TrimSpace(string(payload))
	if name == "" {
		return "", fmt.Errorf("session: empty filename")
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("session: filename contains a NUL byte")
	}
	if name == "." || name == ".." || filepath.Base(name) != name {
		return "", fmt.Errorf("session: %q is not a bare file name", name)
	}
	return name, nil
}
