// Package report builds and formats the end-of-transfer summary printed by
// both CLI tools: bytes moved, elapsed time, throughput, and the counters
// that explain any gaps in the transfer, rendered as plain text with no
// templating engine.
package report

import (
	"fmt"
	"strings"
	"time"
)

// Summary is the operator-facing account of one completed transfer,
// covering both the sender's and the receiver's view.
type Summary struct {
	Role            string // "send" or "recv"
	Filename        string
	Bytes           int64
	Duration        time.Duration
	Retransmissions uint64
	Skips           uint64
	LostSequences   []uint32
	MD5             string
	Duplicates      uint64
	OutOfOrder      uint64
	PacketsSent     uint64
	PacketsReceived uint64
}

// ThroughputKiBs is Bytes/Duration expressed in KiB/s, zero if Duration is
// not positive.
func (s Summary) ThroughputKiBs() float64 {
	secs := s.Duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Bytes) / 1024 / secs
}

// String renders a multi-line human summary, matching the level of detail
// urft's reference client/server print on completion.
func (s Summary) String() string {
	var b strings.Builder
	verb := "Sent"
	if s.Role == "recv" {
		verb = "Received"
	}
	fmt.Fprintf(&b, "%s %s: %d bytes in %s (%.1f KiB/s)\n", verb, s.Filename, s.Bytes, s.Duration.Round(time.Millisecond), s.ThroughputKiBs())
	fmt.Fprintf(&b, "MD5: %s\n", s.MD5)
	fmt.Fprintf(&b, "packets sent=%d received=%d retransmissions=%d duplicates=%d out-of-order=%d\n",
		s.PacketsSent, s.PacketsReceived, s.Retransmissions, s.Duplicates, s.OutOfOrder)
	if len(s.LostSequences) == 0 {
		b.WriteString("lost sequences: none\n")
	} else {
		fmt.Fprintf(&b, "lost sequences (%d): %v\n", len(s.LostSequences), s.LostSequences)
	}
	return b.String()
}
