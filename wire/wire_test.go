package wire

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		seq := rng.Uint32()
		payload := make([]byte, rng.Intn(MaxPayload+1))
		rng.Read(payload)

		datagram := Encode(seq, payload)
		gotSeq, gotPayload, err := Decode(datagram)
		require.NoError(t, err)
		require.Equal(t, seq, gotSeq)
		require.Equal(t, payload, gotPayload)
	}
}

func TestDecodeShortDatagram(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3} {
		_, _, err := Decode(make([]byte, n))
		require.ErrorIs(t, err, ErrShortDatagram)
	}
}

func TestClassifySkip(t *testing.T) {
	p := Classify(42, SkipPacket)
	require.Equal(t, KindSkip, p.Kind)
}

func TestClassifyEOFNone(t *testing.T) {
	p := Classify(99, []byte("EOF:NONE"))
	require.Equal(t, KindEOF, p.Kind)
	require.Empty(t, p.SkipList)
}

func TestClassifyEOFWithList(t *testing.T) {
	p := Classify(99, []byte("EOF:2,5,7"))
	require.Equal(t, KindEOF, p.Kind)
	require.Equal(t, []uint32{2, 5, 7}, p.SkipList)
}

func TestClassifyFilename(t *testing.T) {
	p := Classify(0, []byte("  report.pdf  "))
	require.Equal(t, KindFilename, p.Kind)
	require.Equal(t, "report.pdf", string(p.Data))
}

func TestClassifyData(t *testing.T) {
	p := Classify(7, []byte{1, 2, 3})
	require.Equal(t, KindData, p.Kind)
	require.Equal(t, []byte{1, 2, 3}, p.Data)
}

func TestClassifyDataThatLooksLikeEOFPrefixIsStillEOF(t *testing.T) {
	// A data chunk that happens to start with "EOF:" is indistinguishable
	// from a real end-of-transfer marker under a prefix match, so it
	// classifies as EOF even at a nonzero data sequence.
	p := Classify(3, []byte("EOF:not-actually-a-skip-list"))
	require.Equal(t, KindEOF, p.Kind)
}

func TestEncodeEOFAndParseEOFListRoundTrip(t *testing.T) {
	datagram := EncodeEOF(10, []uint32{5, 2, 9})
	seq, payload, err := Decode(datagram)
	require.NoError(t, err)
	require.Equal(t, uint32(10), seq)

	list, err := ParseEOFList(payload)
	require.NoError(t, err)
	require.Equal(t, []uint32{2, 5, 9}, list)
}

func TestEncodeEOFEmpty(t *testing.T) {
	datagram := EncodeEOF(10, nil)
	_, payload, err := Decode(datagram)
	require.NoError(t, err)
	require.Equal(t, "EOF:NONE", string(payload))

	list, err := ParseEOFList(payload)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestParseEOFListRejectsNonEOF(t *testing.T) {
	_, err := ParseEOFList([]byte("not an eof payload"))
	require.ErrorIs(t, err, ErrNotEOF)
}

func TestParseEOFListRejectsMalformedEntry(t *testing.T) {
	_, err := ParseEOFList([]byte("EOF:1,x,3"))
	require.Error(t, err)
}
