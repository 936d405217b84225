package uow_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"github.com/Keksclan/rawrcache/contextx"
	"github.com/Keksclan/rawrcache/internal/dbtest"
	"github.com/Keksclan/rawrcache/metrics"
	"github.com/Keksclan/rawrcache/retry"
	"github.com/Keksclan/rawrcache/uow"
)

type note struct {
	ID   uint
	Body string
}

var errBusy = errors.New("database is locked")

func count(t *testing.T, u *uow.UnitOfWork) int64 {
	t.Helper()
	var n int64
	if err := u.DB().Model(&note{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestDo_CommitRunsHooksAfterCommit(t *testing.T) {
	u := uow.New(dbtest.Open(t, &note{}))

	var seen int64 = -1
	err := u.Do(t.Context(), func(tx *uow.Tx) error {
		tx.AfterCommit(func(context.Context) { seen = count(t, u) })
		if seen != -1 {
			t.Fatal("hook ran before commit")
		}
		return tx.DB.Create(&note{Body: "hello"}).Error
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if seen != 1 {
		t.Fatalf("hook saw %d rows, want 1", seen)
	}
}

func TestDo_ErrorRollsBackAndSkipsHooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	u := uow.New(dbtest.Open(t, &note{}), uow.WithMetrics(m))

	boom := errors.New("boom")
	ran := false
	err := u.Do(t.Context(), func(tx *uow.Tx) error {
		tx.AfterCommit(func(context.Context) { ran = true })
		if err := tx.DB.Create(&note{Body: "a"}).Error; err != nil {
			return err
		}
		if err := tx.DB.Create(&note{Body: "b"}).Error; err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if ran {
		t.Fatal("hook ran after rollback")
	}
	if n := count(t, u); n != 0 {
		t.Fatalf("rows = %d, want 0", n)
	}
	if got := testutil.ToFloat64(m.Transactions.WithLabelValues("rollback")); got != 1 {
		t.Fatalf("rollback metric = %v, want 1", got)
	}
}

func TestDo_PanicRollsBack(t *testing.T) {
	u := uow.New(dbtest.Open(t, &note{}))

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = u.Do(t.Context(), func(tx *uow.Tx) error {
			tx.DB.Create(&note{Body: "a"})
			panic("mid-transaction")
		})
	}()

	if n := count(t, u); n != 0 {
		t.Fatalf("rows = %d, want 0", n)
	}
}

func TestDo_RetryDiscardsFailedAttempt(t *testing.T) {
	u := uow.New(dbtest.Open(t, &note{}), uow.WithRetry(retry.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errBusy) },
	}))

	attempts, hooks := 0, 0
	err := u.Do(t.Context(), func(tx *uow.Tx) error {
		attempts++
		tx.AfterCommit(func(context.Context) { hooks++ })
		if err := tx.DB.Create(&note{Body: "x"}).Error; err != nil {
			return err
		}
		if attempts == 1 {
			return errBusy
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if hooks != 1 {
		t.Fatalf("hooks = %d, want 1", hooks)
	}
	if n := count(t, u); n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}

func TestDo_HooksSurviveCallerCancel(t *testing.T) {
	u := uow.New(dbtest.Open(t, &note{}))
	ctx, cancel := context.WithCancel(t.Context())

	var hookErr error
	err := u.Do(ctx, func(tx *uow.Tx) error {
		tx.AfterCommit(func(ctx context.Context) {
			cancel()
			hookErr = ctx.Err()
		})
		return tx.DB.Create(&note{Body: "x"}).Error
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if hookErr != nil {
		t.Fatalf("hook ctx err = %v, want nil", hookErr)
	}
}

func TestRun_ReturnsValue(t *testing.T) {
	u := uow.New(dbtest.Open(t, &note{}))

	id, err := uow.Run(t.Context(), u, func(tx *uow.Tx) (uint, error) {
		n := note{Body: "v"}
		err := tx.DB.Create(&n).Error
		return n.ID, err
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if id == 0 {
		t.Fatal("expected generated id")
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := uow.Open("oracle", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestOpen_LogsThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	db, err := uow.Open(uow.DriverSQLite, ":memory:",
		uow.WithSQLLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&note{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := contextx.WithRequestID(t.Context(), "req-1")
	var n note
	if err := db.WithContext(ctx).Take(&n, 42).Error; !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("missing row should not be logged, got %s", buf.String())
	}

	if err := db.WithContext(ctx).Table("absent").Take(&n).Error; err == nil {
		t.Fatal("expected error querying a missing table")
	}
	if !strings.Contains(buf.String(), `"request_id":"req-1"`) {
		t.Fatalf("failed statement should carry the request id, got %s", buf.String())
	}
}

func TestOpen_TranslatesDuplicateKey(t *testing.T) {
	db := dbtest.Open(t, &note{})
	if err := db.Create(&note{ID: 7, Body: "a"}).Error; err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := db.Create(&note{ID: 7, Body: "b"}).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected ErrDuplicatedKey, got %v", err)
	}
}
