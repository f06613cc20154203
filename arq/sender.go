// Package arq implements the sender-side sliding-window ARQ: fill the
// window with unsent chunks, drain acks, retransmit on timeout, and escape
// a stuck window with an explicit SKIP marker once a sequence's retries are
// exhausted. Each outstanding sequence carries its own retry count and
// last-send time, so a slow or lost ack for one chunk never blocks the rest
// of the window.
package arq

import (
	"context"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/arqfile/urft/metrics"
	"github.com/arqfile/urft/transport"
	"github.com/arqfile/urft/wire"
)

// Params configures one sender's window manager.
type Params struct {
	WindowSize int
	Timeout    time.Duration
	MaxRetries int
}

// entry is a window slot: the encoded datagram ready for retransmission,
// when it was last sent, and how many times it has been resent. Owned
// exclusively by the sender; created on first transmission, destroyed on
// ack or conversion to SKIP.
type entry struct {
	datagram []byte
	lastSend time.Time
	retries  int
}

// Sender drives the sliding-window transmission of a precomputed chunk
// list over sock, which it assumes is already handshaken (sequence 0 is
// not its concern).
type Sender struct {
	params  Params
	sock    transport.Socket
	chunks  [][]byte
	log     *log.Logger
	metrics *metrics.Registry

	base       uint32
	next       uint32
	window     map[uint32]*entry
	lost       map[uint32]struct{}
	chunkIndex int

	packetsSent     uint64
	retransmissions uint64
}

// Stats are the sender's running counters, surfaced in the final report.
type Stats struct {
	PacketsSent     uint64
	Retransmissions uint64
}

// NewSender builds a Sender whose first data chunk will be sequence 1, per
// the wire format reserving 0 for the filename handshake.
func NewSender(params Params, sock transport.Socket, chunks [][]byte, logger *log.Logger, reg *metrics.Registry) *Sender {
	return &Sender{
		params:  params,
		sock:    sock,
		chunks:  chunks,
		log:     logger,
		metrics: reg,
		base:    1,
		next:    1,
		window:  make(map[uint32]*entry),
		lost:    make(map[uint32]struct{}),
	}
}

// Run drives transmission to completion: every chunk has been sent and
// every window entry has been acked or converted to SKIP. It returns a
// non-nil error only on context cancellation or a transport error that is
// not a timeout.
func (s *Sender) Run(ctx context.Context) error {
	for s.chunkIndex < len(s.chunks) || len(s.window) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.fill()

		if err := s.drainAcks(); err != nil {
			return err
		}

		s.checkTimeouts()

		s.metrics.SetWindowOccupancy(len(s.window))

		if len(s.window) == 0 && s.chunkIndex < len(s.chunks) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
	return nil
}

// fill transmits new chunks until the window is full or the file is
// exhausted.
func (s *Sender) fill() {
	for len(s.window) < s.params.WindowSize && s.chunkIndex < len(s.chunks) {
		seq := s.next
		datagram := wire.Encode(seq, s.chunks[s.chunkIndex])
		if err := s.sock.Send(datagram); err != nil {
			s.log.Warn("send failed, will retry on timeout", "seq", seq, "err", err)
		}
		s.window[seq] = &entry{datagram: datagram, lastSend: time.Now(), retries: 0}
		s.packetsSent++
		s.metrics.IncPacketsSent()
		s.metrics.AddBytesTransferred(len(s.chunks[s.chunkIndex]))
		s.next++
		s.chunkIndex++
	}
}

// drainAcks polls for acks for up to a 100ms overall budget, using a
// longer per-read deadline when the window is saturated or every chunk has
// been sent (acks matter more than responsiveness) and a short one
// otherwise (keep filling the window).
func (s *Sender) drainAcks() error {
	perRead := 10 * time.Millisecond
	if len(s.window) >= s.params.WindowSize || s.chunkIndex >= len(s.chunks) {
		perRead = 100 * time.Millisecond
	}
	const drainBudget = 100 * time.Millisecond

	deadline := time.Now().Add(drainBudget)
	for time.Now().Before(deadline) {
		datagram, err := s.sock.Receive(perRead)
		if err == transport.ErrTimeout {
			break
		}
		if err != nil {
			return err
		}

		seq, _, decErr := wire.Decode(datagram)
		if decErr != nil {
			continue // malformed ack, noise
		}

		if _, ok := s.window[seq]; !ok {
			continue
		}
		delete(s.window, seq)
		if seq == s.base {
			s.advanceBase()
		}
	}
	return nil
}

// checkTimeouts retransmits entries past their deadline, or abandons them
// via SKIP once retries are exhausted.
func (s *Sender) checkTimeouts() {
	now := time.Now()
	for seq, e := range s.window {
		if now.Sub(e.lastSend) <= s.params.Timeout {
			continue
		}
		if e.retries < s.params.MaxRetries {
			if err := s.sock.Send(e.datagram); err != nil {
				s.log.Warn("retransmit failed", "seq", seq, "err", err)
			}
			e.lastSend = now
			e.retries++
			s.packetsSent++
			s.retransmissions++
			s.metrics.IncPacketsSent()
			s.metrics.IncRetransmissions()
			continue
		}

		s.log.Warn("retries exhausted, abandoning sequence", "seq", seq, "retries", e.retries)
		skip := wire.EncodeSkip(seq)
		for i := 0; i < 3; i++ {
			if err := s.sock.Send(skip); err != nil {
				s.log.Warn("skip send failed", "seq", seq, "err", err)
			}
			s.packetsSent++
			s.metrics.IncPacketsSent()
		}
		s.lost[seq] = struct{}{}
		s.metrics.IncSkips()
		delete(s.window, seq)
		if seq == s.base {
			s.advanceBase()
		}
	}
}

// advanceBase moves base forward past every sequence no longer outstanding
// in the window, below next. The window invariant guarantees anything
// below next and absent from window has already been acked or skipped.
func (s *Sender) advanceBase() {
	for s.base < s.next {
		if _, outstanding := s.window[s.base]; outstanding {
			break
		}
		s.base++
	}
}

// Next returns the first unused sequence number, i.e. the sequence the EOF
// marker should be sent at.
func (s *Sender) Next() uint32 { return s.next }

// Lost returns the sorted list of sequences abandoned via SKIP, to embed in
// the EOF payload.
func (s *Sender) Lost() []uint32 {
	out := make([]uint32, 0, len(s.lost))
	for seq := range s.lost {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WindowLen reports the current number of outstanding entries, exported
// for tests asserting the WINDOW_SIZE bound.
func (s *Sender) WindowLen() int { return len(s.window) }

// Stats returns the sender's running counters.
func (s *Sender) Stats() Stats {
	return Stats{PacketsSent: s.packetsSent, Retransmissions: s.retransmissions}
}
