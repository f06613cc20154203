// Package reassembly implements the receiver-side reassembly loop: ack
// every datagram, deliver in-order payloads to disk, buffer the
// out-of-order ones, honour SKIP markers, and terminate on EOF. The loop is
// single-threaded and deadline-polled: one blocking read per iteration, with
// acknowledgement always happening right after classification and before
// any skip handling or delivery.
package reassembly

import (
	"context"
	"net"
	"time"

	"github.com/charmbracelet/log"

	"github.com/arqfile/urft/metrics"
	"github.com/arqfile/urft/transport"
	"github.com/arqfile/urft/wire"
)

// Params configures one receiver's reassembly loop.
type Params struct {
	Timeout           time.Duration
	InactivityTimeout time.Duration
}

// Writer is the sink a delivered, in-order byte prefix is written to.
type Writer interface {
	Write(payload []byte) error
}

// Stats are the receiver's running counters, surfaced in the final report.
type Stats struct {
	PacketsReceived uint64
	ReceivedBytes   uint64
	Duplicates      uint64
	OutOfOrder      uint64
}

// Receiver consumes datagrams from an already-handshaken peer and
// reassembles them into an ordered byte stream.
type Receiver struct {
	params Params
	sock   transport.PeerSocket
	peer   *net.UDPAddr
	writer Writer
	log    *log.Logger
	metric *metrics.Registry

	expected uint32
	buffer   map[uint32][]byte
	skipped  map[uint32]struct{}
	stats    Stats

	lastActivity time.Time
}

// NewReceiver builds a Receiver expecting data to begin at sequence 1, per
// the wire format reserving 0 for the filename handshake peer addr is the
// address learned during that handshake.
func NewReceiver(params Params, sock transport.PeerSocket, peer *net.UDPAddr, writer Writer, logger *log.Logger, reg *metrics.Registry) *Receiver {
	return &Receiver{
		params:   params,
		sock:     sock,
		peer:     peer,
		writer:   writer,
		log:      logger,
		metric:   reg,
		expected: 1,
		buffer:   make(map[uint32][]byte),
		skipped:  make(map[uint32]struct{}),
	}
}

// Run consumes datagrams until a clean EOF is observed, context
// cancellation, or a non-timeout transport error.
func (r *Receiver) Run(ctx context.Context) error {
	r.lastActivity = time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		datagram, addr, err := r.sock.ReceiveFrom(r.params.Timeout)
		if err == transport.ErrTimeout {
			r.probeOnInactivity()
			continue
		}
		if err != nil {
			return err
		}

		r.lastActivity = time.Now()
		r.peer = addr
		r.stats.PacketsReceived++
		r.metric.IncPacketsReceived()

		seq, payload, decErr := wire.Decode(datagram)
		if decErr != nil {
			continue // malformed noise, silently dropped
		}

		classified := wire.Classify(seq, payload)
		r.ack(seq, r.isImportant(seq, classified))

		switch classified.Kind {
		case wire.KindSkip:
			r.handleSkip(seq)
			continue
		case wire.KindEOF:
			r.applySkipList(classified.SkipList)
			return nil
		}

		r.handleData(seq, classified.Data)
	}
}

func (r *Receiver) isImportant(seq uint32, p wire.Payload) bool {
	return seq == r.expected || p.Kind == wire.KindEOF || p.Kind == wire.KindSkip
}

func (r *Receiver) probeOnInactivity() {
	if time.Since(r.lastActivity) <= r.params.InactivityTimeout {
		return
	}
	if r.expected > 1 && r.peer != nil {
		r.log.Warn("no activity, probing sender", "expected", r.expected)
		r.ack(r.expected-1, false)
	}
	r.lastActivity = time.Now()
}

func (r *Receiver) ack(seq uint32, important bool) {
	if r.peer == nil {
		return
	}
	count := 1
	if important {
		count = 3
	}
	datagram := wire.EncodeAck(seq)
	for i := 0; i < count; i++ {
		if err := r.sock.SendTo(datagram, r.peer); err != nil {
			r.log.Warn("ack send failed", "seq", seq, "err", err)
		}
	}
}

func (r *Receiver) handleSkip(seq uint32) {
	r.skipped[seq] = struct{}{}
	if seq == r.expected {
		r.expected++
		r.advance()
	}
}

func (r *Receiver) applySkipList(list []uint32) {
	for _, seq := range list {
		r.skipped[seq] = struct{}{}
	}
	r.advance()
}

func (r *Receiver) handleData(seq uint32, payload []byte) {
	if seq < r.expected || r.isSkipped(seq) {
		r.stats.Duplicates++
		r.metric.IncDuplicates()
		return
	}
	if seq == r.expected {
		r.deliver(payload)
		r.expected++
		r.advance()
		return
	}
	// seq > expected: out of order.
	r.stats.OutOfOrder++
	r.metric.IncOutOfOrder()
	if _, buffered := r.buffer[seq]; !buffered && !r.isSkipped(seq) {
		r.buffer[seq] = payload
	}
}

// advance drains the reassembly buffer and the skip set alternately until
// expected can no longer move, preserving the delivery prefix law: bytes
// on disk always equal the concatenation of [1, expected) minus skipped.
func (r *Receiver) advance() {
	for {
		if data, ok := r.buffer[r.expected]; ok {
			r.deliver(data)
			delete(r.buffer, r.expected)
			r.expected++
			continue
		}
		if _, ok := r.skipped[r.expected]; ok {
			r.expected++
			continue
		}
		break
	}
}

func (r *Receiver) deliver(payload []byte) {
	if err := r.writer.Write(payload); err != nil {
		r.log.Error("write failed", "err", err)
		return
	}
	r.stats.ReceivedBytes += uint64(len(payload))
	r.metric.AddBytesTransferred(len(payload))
}

func (r *Receiver) isSkipped(seq uint32) bool {
	_, ok := r.skipped[seq]
	return ok
}

// Expected exposes the monotonically non-decreasing delivery cursor, for
// tests asserting the receiver monotonicity invariant.
func (r *Receiver) Expected() uint32 { return r.expected }

// Stats returns the receiver's running counters.
func (r *Receiver) Stats() Stats { return r.stats }
