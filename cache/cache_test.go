package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Keksclan/rawrcache/internal/kvtest"
	"github.com/Keksclan/rawrcache/keys"
	"github.com/Keksclan/rawrcache/metrics"
	"github.com/Keksclan/rawrcache/tracing"
)

type profile struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func newAside(t *testing.T, opts ...Option) (*Aside, *miniredis.Miniredis) {
	t.Helper()
	store, mr := kvtest.New(t)
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return New(store, opts...), mr
}

func TestRead_HitSkipsCompute(t *testing.T) {
	a, _ := newAside(t)
	ctx := t.Context()

	var calls atomic.Int32
	compute := func(context.Context) (int, error) {
		calls.Add(1)
		return 42, nil
	}

	r1, err := Read(ctx, a, "count", nil, time.Minute, compute)
	if err != nil {
		t.Fatalf("Read 1: %v", err)
	}
	if r1.Source != Miss || r1.Value != 42 || !r1.Found {
		t.Fatalf("unexpected first result %+v", r1)
	}

	r2, err := Read(ctx, a, "count", nil, time.Minute, compute)
	if err != nil {
		t.Fatalf("Read 2: %v", err)
	}
	if r2.Source != Hit || r2.Value != 42 {
		t.Fatalf("unexpected second result %+v", r2)
	}

	if n := calls.Load(); n != 1 {
		t.Fatalf("compute called %d times, want 1", n)
	}
}

func TestRead_StoresWithTTL(t *testing.T) {
	a, mr := newAside(t)

	_, err := Read(t.Context(), a, "count", nil, time.Minute, func(context.Context) (int, error) { return 1, nil })
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ttl := mr.TTL("cache:count"); ttl != time.Minute {
		t.Fatalf("got ttl %v, want 1m", ttl)
	}
}

func TestLookup_CachesAbsent(t *testing.T) {
	a, _ := newAside(t)
	ctx := t.Context()
	params := keys.Params{"telegram_id": int64(99999)}

	var calls atomic.Int32
	compute := func(context.Context) (*profile, error) {
		calls.Add(1)
		return nil, nil
	}

	for i := range 3 {
		r, err := Lookup(ctx, a, "get_user", params, time.Minute, compute)
		if err != nil {
			t.Fatalf("Lookup %d: %v", i, err)
		}
		if r.Found || r.Value != nil {
			t.Fatalf("expected absent result, got %+v", r)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("compute called %d times, want 1", n)
	}
}

func TestLookup_RoundTripsStruct(t *testing.T) {
	a, _ := newAside(t)
	ctx := t.Context()
	params := keys.Params{"telegram_id": int64(7)}
	compute := func(context.Context) (*profile, error) { return &profile{ID: 7, Name: "neo"}, nil }

	if _, err := Lookup(ctx, a, "get_user", params, time.Minute, compute); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	r, err := Lookup(ctx, a, "get_user", params, time.Minute, compute)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if r.Source != Hit || r.Value == nil || r.Value.Name != "neo" {
		t.Fatalf("unexpected hit %+v", r)
	}
}

func TestRead_AfterDeleteRecomputes(t *testing.T) {
	a, _ := newAside(t)
	ctx := t.Context()

	version := 1
	compute := func(context.Context) (int, error) { return version, nil }

	if _, err := Read(ctx, a, "count", nil, time.Minute, compute); err != nil {
		t.Fatalf("Read: %v", err)
	}
	version = 2
	if _, err := a.Delete(ctx, a.Key("count", nil)); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	r, err := Read(ctx, a, "count", nil, time.Minute, compute)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.Value != 2 || r.Source != Miss {
		t.Fatalf("served stale value after invalidation: %+v", r)
	}
}

func TestRead_StoreOutageFallsBack(t *testing.T) {
	m := metrics.New(nil)
	a, mr := newAside(t, WithMetrics(m))
	mr.SetError("ERR down")

	var calls atomic.Int32
	compute := func(context.Context) (string, error) {
		calls.Add(1)
		return "fresh", nil
	}

	for range 2 {
		r, err := Read(t.Context(), a, "get_devs", nil, time.Minute, compute)
		if err != nil {
			t.Fatalf("outage must not fail the read: %v", err)
		}
		if r.Source != Bypass || !r.Degraded() || r.Value != "fresh" {
			t.Fatalf("unexpected result %+v", r)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("compute called %d times, want 2", n)
	}
	if got := testutil.ToFloat64(m.Degraded.WithLabelValues("cache_get")); got != 2 {
		t.Fatalf("degraded counter: got %v, want 2", got)
	}
}

func TestRead_ComputeErrorNotCached(t *testing.T) {
	a, mr := newAside(t)
	boom := errors.New("db down")

	_, err := Read(t.Context(), a, "count", nil, time.Minute, func(context.Context) (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}
	if mr.Exists("cache:count") {
		t.Fatal("failed computation was cached")
	}
}

func TestRead_CorruptEntryIsMiss(t *testing.T) {
	a, mr := newAside(t)
	_ = mr.Set("cache:count", "{not json")

	r, err := Read(t.Context(), a, "count", nil, time.Minute, func(context.Context) (int, error) { return 5, nil })
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.Source != Miss || r.Value != 5 {
		t.Fatalf("unexpected result %+v", r)
	}
	got, _ := mr.Get("cache:count")
	if got != `{"found":true,"value":5}` {
		t.Fatalf("entry not rewritten: %q", got)
	}
}

func TestRead_UnencodableServedUncached(t *testing.T) {
	a, mr := newAside(t)

	r, err := Read(t.Context(), a, "chan", nil, time.Minute, func(context.Context) (chan int, error) {
		return make(chan int), nil
	})
	if err != nil {
		t.Fatalf("encode failure must not fail the read: %v", err)
	}
	if r.Value == nil || !r.Degraded() || r.Source != Miss {
		t.Fatalf("unexpected result %+v", r)
	}
	if mr.Exists("cache:chan") {
		t.Fatal("unencodable value stored")
	}
}

func TestRead_ConcurrentColdKey(t *testing.T) {
	a, mr := newAside(t)
	const n = 16

	var calls atomic.Int32
	compute := func(context.Context) (string, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return "v", nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := Read(context.Background(), a, "get_admins", nil, time.Minute, compute)
			if err == nil && r.Value != "v" {
				err = fmt.Errorf("got %q", r.Value)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent read: %v", err)
		}
	}

	if c := calls.Load(); c < 1 || c > n {
		t.Fatalf("compute called %d times, want 1..%d", c, n)
	}
	got, err := mr.Get("cache:get_admins")
	if err != nil || got != `{"found":true,"value":"v"}` {
		t.Fatalf("final entry %q err=%v", got, err)
	}
}

func TestRead_L1ServesAndDeleteClears(t *testing.T) {
	l1 := mustNewL1(t, 1<<16)
	a, mr := newAside(t, WithL1(l1, time.Minute))
	ctx := t.Context()

	version := 1
	compute := func(context.Context) (int, error) { return version, nil }

	if _, err := Read(ctx, a, "count", nil, time.Minute, compute); err != nil {
		t.Fatalf("Read: %v", err)
	}

	// Out-of-band wipe of the shared store; L1 still answers.
	mr.FlushAll()
	r, err := Read(ctx, a, "count", nil, time.Minute, compute)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.Source != Hit || r.Value != 1 {
		t.Fatalf("expected L1 hit, got %+v", r)
	}

	version = 2
	if _, err := a.Delete(ctx, a.Key("count", nil)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	r, err = Read(ctx, a, "count", nil, time.Minute, compute)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.Value != 2 {
		t.Fatalf("L1 kept stale value after Delete: %+v", r)
	}
}

func TestRead_RecordsSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	a, _ := newAside(t, WithTracing(&tracing.Config{TracerProvider: tp}))
	compute := func(context.Context) (int, error) { return 1, nil }
	_, _ = Read(t.Context(), a, "count", nil, time.Minute, compute)
	_, _ = Read(t.Context(), a, "count", nil, time.Minute, compute)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	var source string
	for _, kv := range spans[1].Attributes() {
		if kv.Key == "cache.source" {
			source = kv.Value.AsString()
		}
	}
	if source != "hit" {
		t.Fatalf("second span source %q, want hit", source)
	}
}
