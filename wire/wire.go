// Package wire implements the urft datagram framing: a 4-byte big-endian
// sequence number followed by a payload, and classification of that payload
// into the protocol's handful of special shapes.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// SeqBytes is the width of the sequence number prefix on every datagram.
	SeqBytes = 4

	// MaxPayload is the largest payload a single datagram may carry.
	MaxPayload = 1450

	// MaxDatagramSize is the largest well-formed datagram, used to size
	// receive buffers so that oversized reads are truncated rather than
	// misread.
	MaxDatagramSize = SeqBytes + MaxPayload
)

// SkipPacket is the exact payload that marks a sequence as abandoned by the
// sender.
var SkipPacket = []byte("SKIP_PACKET")

var eofPrefix = []byte("EOF:")

// ErrShortDatagram is returned by Decode when a datagram is too short to
// contain a sequence number.
var ErrShortDatagram = errors.New("wire: datagram shorter than sequence prefix")

// Encode frames seq and payload into a single datagram.
func Encode(seq uint32, payload []byte) []byte {
	out := make([]byte, SeqBytes+len(payload))
	binary.BigEndian.PutUint32(out, seq)
	copy(out[SeqBytes:], payload)
	return out
}

// Decode splits a datagram into its sequence number and payload. A datagram
// shorter than SeqBytes is malformed noise, per the spec's error taxonomy.
func Decode(datagram []byte) (seq uint32, payload []byte, err error) {
	if len(datagram) < SeqBytes {
		return 0, nil, ErrShortDatagram
	}
	seq = binary.BigEndian.Uint32(datagram[:SeqBytes])
	payload = datagram[SeqBytes:]
	return seq, payload, nil
}

// PayloadKind tags the four shapes a decoded payload can take.
type PayloadKind uint8

const (
	KindFilename PayloadKind = iota
	KindData
	KindSkip
	KindEOF
)

func (k PayloadKind) String() string {
	switch k {
	case KindFilename:
		return "filename"
	case KindData:
		return "data"
	case KindSkip:
		return "skip"
	case KindEOF:
		return "eof"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Payload is the tagged variant a classified datagram payload is parsed
// into, so call sites branch on Kind instead of re-testing byte patterns.
type Payload struct {
	Kind     PayloadKind
	Data     []byte   // chunk bytes (KindData) or basename bytes (KindFilename)
	SkipList []uint32 // populated only for KindEOF
}

// Classify applies the classification rules in order: exact SKIP_PACKET
// equality, then EOF:-prefix, then sequence zero, then data.
func Classify(seq uint32, payload []byte) Payload {
	switch {
	case bytes.Equal(payload, SkipPacket):
		return Payload{Kind: KindSkip}
	case bytes.HasPrefix(payload, eofPrefix):
		list, _ := ParseEOFList(payload)
		return Payload{Kind: KindEOF, SkipList: list}
	case seq == 0:
		return Payload{Kind: KindFilename, Data: bytes.TrimSpace(payload)}
	default:
		return Payload{Kind: KindData, Data: payload}
	}
}

// EncodeAck frames a bare acknowledgement for seq.
func EncodeAck(seq uint32) []byte {
	return Encode(seq, nil)
}

// EncodeFilename frames the sequence-0 handshake payload.
func EncodeFilename(basename string) []byte {
	return Encode(0, []byte(basename))
}

// EncodeSkip frames a SKIP marker for seq.
func EncodeSkip(seq uint32) []byte {
	return Encode(seq, SkipPacket)
}

// EncodeEOF frames the end-of-transfer marker, embedding lost as an
// ascending decimal list, or the literal NONE when lost is empty.
func EncodeEOF(seq uint32, lost []uint32) []byte {
	var list string
	if len(lost) == 0 {
		list = "NONE"
	} else {
		sorted := append([]uint32(nil), lost...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		parts := make([]string, len(sorted))
		for i, v := range sorted {
			parts[i] = strconv.FormatUint(uint64(v), 10)
		}
		list = strings.Join(parts, ",")
	}
	return Encode(seq, append(append([]byte{}, eofPrefix...), []byte(list)...))
}

// ErrNotEOF is returned by ParseEOFList when given a payload that does not
// carry the EOF: prefix.
var ErrNotEOF = errors.New("wire: payload is not an EOF marker")

// ParseEOFList extracts the skip list embedded in an EOF payload. A payload
// of "EOF:NONE" parses to a nil, empty list.
func ParseEOFList(payload []byte) ([]uint32, error) {
	if !bytes.HasPrefix(payload, eofPrefix) {
		return nil, ErrNotEOF
	}
	rest := string(payload[len(eofPrefix):])
	if rest == "NONE" || rest == "" {
		return nil, nil
	}
	parts := strings.Split(rest, ",")
	list := make([]uint32, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("wire: malformed EOF skip list entry %q: %w", p, err)
		}
		list = append(list, uint32(n))
	}
	return list, nil
}
