package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu      sync.Mutex
	appends [][]byte
}

func (f *fakeSink) Append(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.appends = append(f.appends, cp)
	return nil
}

func (f *fakeSink) all() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.appends))
	copy(out, f.appends)
	return out
}

func TestXORFusion_EqualLength(t *testing.T) {
	chunks := []RawChunk{
		{Source: "a", Bytes: []byte{0x0F, 0xF0}},
		{Source: "b", Bytes: []byte{0xFF, 0x0F}},
	}
	out := mixChunks(StrategyXORFusion, chunks)
	require.Equal(t, []byte{0xF0, 0xFF}, out)
}

func TestXORFusion_DifferentLengthUsesMin(t *testing.T) {
	chunks := []RawChunk{
		{Source: "a", Bytes: []byte{0x01, 0x02, 0x03}},
		{Source: "b", Bytes: []byte{0x01, 0x02}},
	}
	out := mixChunks(StrategyXORFusion, chunks)
	require.Len(t, out, 2)
}

func TestHKDFWhiten_OutputLengthMatchesTotalInput(t *testing.T) {
	chunks := []RawChunk{
		{Source: "a", Bytes: []byte("abcdefgh")},
		{Source: "b", Bytes: []byte("01234567")},
	}
	out := mixChunks(StrategyHKDFWhiten, chunks)
	require.Len(t, out, 16)
}

func TestMixChunks_SingleSourceIsIdentity(t *testing.T) {
	chunks := []RawChunk{{Source: "solo", Bytes: []byte("just-one")}}
	require.Equal(t, []byte("just-one"), mixChunks(StrategyXORFusion, chunks))
	require.Equal(t, []byte("just-one"), mixChunks(StrategyHKDFWhiten, chunks))
}

func TestMixer_FlushesWhenWindowComplete(t *testing.T) {
	srcA := NewSource(SourceConfig{Name: "a", Period: time.Hour})
	srcB := NewSource(SourceConfig{Name: "b", Period: time.Hour})
	sink := &fakeSink{}
	m := NewMixer(StrategyXORFusion, time.Hour, []*Source{srcA, srcB}, sink, nil)

	in := make(chan RawChunk, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, in)

	in <- RawChunk{Source: "a", Bytes: []byte{0x01, 0x02}}
	in <- RawChunk{Source: "b", Bytes: []byte{0x03, 0x04}}

	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMixer_DeadlineFlushesPartialWindow(t *testing.T) {
	srcA := NewSource(SourceConfig{Name: "a", Period: time.Hour})
	srcB := NewSource(SourceConfig{Name: "b", Period: time.Hour})
	sink := &fakeSink{}
	m := NewMixer(StrategyXORFusion, 20*time.Millisecond, []*Source{srcA, srcB}, sink, nil)

	in := make(chan RawChunk, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, in)

	in <- RawChunk{Source: "a", Bytes: []byte{0x01, 0x02}}

	require.Eventually(t, func() bool {
		all := sink.all()
		return len(all) == 1 && string(all[0]) == "\x01\x02"
	}, time.Second, 5*time.Millisecond)
}
