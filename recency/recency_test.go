package recency_test

import (
	"log/slog"
	"slices"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/Keksclan/rawrcache/internal/kvtest"
	"github.com/Keksclan/rawrcache/recency"
)

func newList(t *testing.T, opts ...recency.Option) (*recency.List, *miniredis.Miniredis) {
	t.Helper()
	store, mr := kvtest.New(t)
	opts = append([]recency.Option{recency.WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return recency.New(store, "recent_registered_users", opts...), mr
}

func TestTouch_KeepsNewestWithinCapacity(t *testing.T) {
	l, _ := newList(t)
	ctx := t.Context()

	for id := int64(1); id <= 12; id++ {
		if out := l.Touch(ctx, id); out.Degraded() {
			t.Fatalf("Touch(%d): %v", id, out.Err)
		}
	}

	got, out := l.Read(ctx)
	if out.Degraded() {
		t.Fatalf("Read: %v", out.Err)
	}
	want := []int64{12, 11, 10, 9, 8, 7, 6, 5, 4, 3}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestTouch_MovesExistingToFront(t *testing.T) {
	l, mr := newList(t)
	ctx := t.Context()

	for _, id := range []int64{1, 2, 3, 2} {
		l.Touch(ctx, id)
	}

	got, _ := l.Read(ctx)
	if want := []int64{2, 3, 1}; !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	members, _ := mr.List("recent_registered_users")
	if len(members) != 3 {
		t.Fatalf("list holds duplicates: %v", members)
	}
}

func TestWithCapacity(t *testing.T) {
	l, _ := newList(t, recency.WithCapacity(2))
	ctx := t.Context()
	for id := int64(1); id <= 5; id++ {
		l.Touch(ctx, id)
	}
	got, _ := l.Read(ctx)
	if want := []int64{5, 4}; !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRead_DropsUnparsableMembers(t *testing.T) {
	l, mr := newList(t)
	ctx := t.Context()

	l.Touch(ctx, 7)
	if _, err := mr.Lpush("recent_registered_users", "garbage"); err != nil {
		t.Fatal(err)
	}

	got, out := l.Read(ctx)
	if out.Degraded() {
		t.Fatalf("Read: %v", out.Err)
	}
	if want := []int64{7}; !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	members, _ := mr.List("recent_registered_users")
	if slices.Contains(members, "garbage") {
		t.Fatalf("garbage member not removed: %v", members)
	}
}

func TestRemove(t *testing.T) {
	l, _ := newList(t)
	ctx := t.Context()
	for _, id := range []int64{1, 2, 3} {
		l.Touch(ctx, id)
	}
	if out := l.Remove(ctx, 2); out.Degraded() {
		t.Fatalf("Remove: %v", out.Err)
	}
	got, _ := l.Read(ctx)
	if want := []int64{3, 1}; !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestOutage_Degrades(t *testing.T) {
	l, mr := newList(t)
	ctx := t.Context()
	mr.SetError("LOADING")

	if out := l.Touch(ctx, 1); !out.Degraded() {
		t.Fatal("expected degraded touch")
	}
	got, out := l.Read(ctx)
	if !out.Degraded() || got != nil {
		t.Fatalf("Read = %v, %v; want nil, degraded", got, out)
	}
	if out := l.Remove(ctx, 1); !out.Degraded() {
		t.Fatal("expected degraded remove")
	}
}
