package collector

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/entropybridge/qrngd/infrastructure/testutil"
)

func TestFetcher_SuccessfulFetchEmitsChunk(t *testing.T) {
	payload := []byte("0123456789abcdef")
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	src := NewSource(SourceConfig{Name: "qrng", URL: srv.URL, Period: 20 * time.Millisecond, ChunkSize: len(payload)})
	f := NewFetcher([]*Source{src}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go f.Run(ctx)

	select {
	case chunk := <-f.Chunks():
		require.Equal(t, payload, chunk.Bytes)
		require.Equal(t, "qrng", chunk.Source)
	case <-time.After(time.Second):
		t.Fatal("expected a chunk from successful fetch")
	}
}

func TestFetcher_TruncatedResponseCountsAsFailure(t *testing.T) {
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	src := NewSource(SourceConfig{Name: "qrng", URL: srv.URL, Period: 20 * time.Millisecond, ChunkSize: 4096, FailureThreshold: 1})

	err := (&Fetcher{client: srv.Client(), sources: []*Source{src}, out: make(chan RawChunk, 1)}).fetchOnce(context.Background(), src)
	require.Error(t, err)
}

func TestFetcher_BackpressureGateSkipsFetchWhenFull(t *testing.T) {
	called := false
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	src := NewSource(SourceConfig{Name: "qrng", URL: srv.URL, Period: 10 * time.Millisecond, ChunkSize: 5})
	f := NewFetcher([]*Source{src}, alwaysFullGate{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	f.Run(ctx)

	require.False(t, called)
}

type alwaysFullGate struct{}

func (alwaysFullGate) IsFull() bool { return true }
