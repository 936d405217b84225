package settings_test

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/Keksclan/rawrcache/cache"
	"github.com/Keksclan/rawrcache/internal/dbtest"
	"github.com/Keksclan/rawrcache/internal/kvtest"
	"github.com/Keksclan/rawrcache/settings"
	"github.com/Keksclan/rawrcache/uow"
)

func newService(t *testing.T) (*settings.Service, *cache.Aside, func(string) bool) {
	t.Helper()
	db := dbtest.Open(t, &settings.Notifications{})
	store, mr := kvtest.New(t)
	discard := slog.New(slog.DiscardHandler)
	aside := cache.New(store, cache.WithLogger(discard))
	return settings.NewService(uow.New(db), aside, settings.WithLogger(discard)), aside, mr.Exists
}

func TestGet_CreatesDefaults(t *testing.T) {
	svc, aside, exists := newService(t)

	n, err := svc.Get(t.Context())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n.ID != 1 || !n.BotLifetime || !n.UserRegistered || !n.Subscription || !n.PromocodeActivated {
		t.Fatalf("unexpected defaults %+v", n)
	}
	if !exists(aside.Key(settings.PrefixGet, nil)) {
		t.Fatal("settings not cached")
	}
}

func TestGet_ConcurrentFirstAccess(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := t.Context()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Get(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Get: %v", err)
	}
}

func TestToggle_InvalidatesCache(t *testing.T) {
	svc, aside, exists := newService(t)
	ctx := t.Context()

	if _, err := svc.Get(ctx); err != nil {
		t.Fatal(err)
	}
	n, err := svc.Toggle(ctx, settings.UserRegistered)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if n.UserRegistered {
		t.Fatal("Toggle did not flip user_registered")
	}
	if exists(aside.Key(settings.PrefixGet, nil)) {
		t.Fatal("stale settings left in cache")
	}

	on, err := svc.Enabled(ctx, settings.UserRegistered)
	if err != nil || on {
		t.Fatalf("Enabled = %v, %v; want false", on, err)
	}
	if on, _ := svc.Enabled(ctx, settings.Subscription); !on {
		t.Fatal("unrelated toggle changed")
	}
}

func TestToggle_UnknownType(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.Toggle(t.Context(), "referral"); !errors.Is(err, settings.ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestUpdate_WritesAllToggles(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := t.Context()

	got, err := svc.Update(ctx, settings.Notifications{BotLifetime: true})
	if err != nil {
		t.Fatal(err)
	}
	if !got.BotLifetime || got.UserRegistered || got.Subscription || got.PromocodeActivated {
		t.Fatalf("unexpected settings %+v", got)
	}
	cached, _ := svc.Get(ctx)
	if cached.UserRegistered {
		t.Fatalf("Get returned stale settings %+v", cached)
	}
}
