// Package quota throttles outbound mail. A fixed inter-send delay keeps
// the provider's undocumented rate limits at bay, and optional
// hourly/daily caps guard the account's send quota across restarts.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSendQuota = []byte("send_quota")

// DefaultDelay is the inter-send pause. Half a second between messages
// avoids tripping the provider's burst limiting.
const DefaultDelay = 500 * time.Millisecond

// Config contains throttle settings.
type Config struct {
	Delay           time.Duration `yaml:"delay"`             // pause between sends
	MessagesPerHour int           `yaml:"messages_per_hour"` // 0 = unlimited
	MessagesPerDay  int           `yaml:"messages_per_day"`  // 0 = unlimited
}

// Counter tracks rolling send counts for one account.
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter enforces the inter-send delay and the account quota. Counters
// persist in bbolt when a database is provided, so a restart does not
// reset the daily budget.
type Limiter struct {
	db       *bolt.DB
	cfg      Config
	mu       sync.Mutex
	counters map[string]*Counter
	now      func() time.Time
}

// NewLimiter creates a limiter. db may be nil for purely in-memory
// counting.
func NewLimiter(db *bolt.DB, cfg Config) (*Limiter, error) {
	if cfg.Delay == 0 {
		cfg.Delay = DefaultDelay
	}

	l := &Limiter{
		db:       db,
		cfg:      cfg,
		counters: make(map[string]*Counter),
		now:      time.Now,
	}

	if db != nil {
		err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketSendQuota)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("create quota bucket: %w", err)
		}
		if err := l.loadCounters(); err != nil {
			return nil, fmt.Errorf("load quota counters: %w", err)
		}
	}

	return l, nil
}

// Delay returns the configured inter-send pause.
func (l *Limiter) Delay() time.Duration {
	return l.cfg.Delay
}

// Wait pauses for the inter-send delay, returning early if the context
// is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	t := time.NewTimer(l.cfg.Delay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Allow checks the account's quota and, when within limits, counts one
// send. The returned reason is non-empty when the send was denied.
func (l *Limiter) Allow(account string) (bool, string) {
	if l.cfg.MessagesPerHour == 0 && l.cfg.MessagesPerDay == 0 {
		return true, ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c := l.counters[account]
	if c == nil {
		c = &Counter{HourStart: now, DayStart: now}
		l.counters[account] = c
	}

	if now.Sub(c.HourStart) >= time.Hour {
		c.HourlyCount = 0
		c.HourStart = now
	}
	if now.Sub(c.DayStart) >= 24*time.Hour {
		c.DailyCount = 0
		c.DayStart = now
	}

	if l.cfg.MessagesPerHour > 0 && c.HourlyCount >= l.cfg.MessagesPerHour {
		return false, fmt.Sprintf("hourly send quota reached (%d)", l.cfg.MessagesPerHour)
	}
	if l.cfg.MessagesPerDay > 0 && c.DailyCount >= l.cfg.MessagesPerDay {
		return false, fmt.Sprintf("daily send quota reached (%d)", l.cfg.MessagesPerDay)
	}

	c.HourlyCount++
	c.DailyCount++
	l.persistCounter(account, c)

	return true, ""
}

// Usage returns a snapshot of the account's counter.
func (l *Limiter) Usage(account string) Counter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c := l.counters[account]; c != nil {
		return *c
	}
	return Counter{}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSendQuota)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var c Counter
			if err := json.Unmarshal(v, &c); err != nil {
				return nil // skip corrupt entries
			}
			l.counters[string(k)] = &c
			return nil
		})
	})
}

func (l *Limiter) persistCounter(account string, c *Counter) {
	if l.db == nil {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	// Sends are at least one delay apart, so a write per send is cheap.
	_ = l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSendQuota).Put([]byte(account), data)
	})
}
