package quota

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func setupTestDB(t *testing.T) *bolt.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "quota.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewLimiterDefaults(t *testing.T) {
	l, err := NewLimiter(nil, Config{})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	if l.Delay() != DefaultDelay {
		t.Errorf("delay = %v, want %v", l.Delay(), DefaultDelay)
	}
}

func TestAllowUnlimited(t *testing.T) {
	l, err := NewLimiter(nil, Config{})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	for i := 0; i < 100; i++ {
		if ok, reason := l.Allow("me@x.com"); !ok {
			t.Fatalf("unlimited limiter denied send: %s", reason)
		}
	}
}

func TestAllowHourlyCap(t *testing.T) {
	l, err := NewLimiter(nil, Config{MessagesPerHour: 3})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("me@x.com"); !ok {
			t.Fatalf("send %d denied under cap", i)
		}
	}
	ok, reason := l.Allow("me@x.com")
	if ok {
		t.Fatal("expected fourth send to be denied")
	}
	if reason == "" {
		t.Error("expected a denial reason")
	}

	// Other accounts are counted independently.
	if ok, _ := l.Allow("other@x.com"); !ok {
		t.Error("other account should not share the counter")
	}
}

func TestAllowHourlyWindowReset(t *testing.T) {
	l, err := NewLimiter(nil, Config{MessagesPerHour: 1})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	base := time.Now()
	l.now = func() time.Time { return base }

	if ok, _ := l.Allow("me@x.com"); !ok {
		t.Fatal("first send denied")
	}
	if ok, _ := l.Allow("me@x.com"); ok {
		t.Fatal("second send should be denied")
	}

	l.now = func() time.Time { return base.Add(61 * time.Minute) }
	if ok, _ := l.Allow("me@x.com"); !ok {
		t.Error("send after window reset should be allowed")
	}
}

func TestCountersPersist(t *testing.T) {
	db := setupTestDB(t)

	l, err := NewLimiter(db, Config{MessagesPerDay: 2})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	l.Allow("me@x.com")
	l.Allow("me@x.com")

	// A fresh limiter over the same db sees the recorded counts.
	l2, err := NewLimiter(db, Config{MessagesPerDay: 2})
	if err != nil {
		t.Fatalf("NewLimiter reopen failed: %v", err)
	}
	if ok, _ := l2.Allow("me@x.com"); ok {
		t.Error("expected persisted counter to deny the third send")
	}
	if got := l2.Usage("me@x.com").DailyCount; got != 2 {
		t.Errorf("daily count = %d, want 2", got)
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	l, err := NewLimiter(nil, Config{Delay: time.Minute})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Error("Wait blocked past cancellation")
	}
}

func TestWaitDelay(t *testing.T) {
	l, err := NewLimiter(nil, Config{Delay: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("Wait returned before the delay elapsed")
	}
}
