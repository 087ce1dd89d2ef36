package ticks

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tick(seg, sid string, ltp float64, ts time.Time) types.Tick {
	return types.Tick{
		Segment:         seg,
		SecurityID:      sid,
		LTP:             money.FromFloat(ltp),
		ServerTimestamp: ts,
		ReceivedAt:      time.Now(),
	}
}

func TestPutAndGet(t *testing.T) {
	t.Parallel()
	c := New(discard())

	now := time.Now()
	if !c.Put(tick("IDX", "13", 22100, now)) {
		t.Fatal("first put rejected")
	}

	got, ok := c.Get("IDX", "13")
	if !ok || !got.LTP.Equal(money.FromFloat(22100)) {
		t.Errorf("Get = %v, %v", got.LTP, ok)
	}
	if _, ok := c.Get("IDX", "999"); ok {
		t.Error("Get on unknown key = true")
	}
}

func TestOutOfOrderTicksDropped(t *testing.T) {
	t.Parallel()
	c := New(discard())

	base := time.Now()
	c.Put(tick("NSE_FNO", "44443", 100, base))
	c.Put(tick("NSE_FNO", "44443", 120, base.Add(2*time.Second)))

	if c.Put(tick("NSE_FNO", "44443", 90, base.Add(time.Second))) {
		t.Error("older tick accepted")
	}

	ltp, _ := c.LTP("NSE_FNO", "44443")
	if !ltp.Equal(money.FromFloat(120)) {
		t.Errorf("LTP = %v, want 120 (greatest server_timestamp wins)", ltp)
	}
	if got := c.Stats().Rejected; got != 1 {
		t.Errorf("Rejected = %d, want 1", got)
	}
}

func TestReplayShuffledConvergesOnNewest(t *testing.T) {
	t.Parallel()
	c := New(discard())

	base := time.Now()
	// Deliberately shuffled replay of the same key.
	for _, off := range []int{3, 1, 4, 0, 2, 5} {
		c.Put(tick("IDX", "13", 100+float64(off), base.Add(time.Duration(off)*time.Second)))
	}

	ltp, ok := c.LTP("IDX", "13")
	if !ok || !ltp.Equal(money.FromFloat(105)) {
		t.Errorf("final LTP = %v, want 105", ltp)
	}
}

func TestFresh(t *testing.T) {
	t.Parallel()
	c := New(discard())

	tk := tick("IDX", "13", 22100, time.Now())
	tk.ReceivedAt = time.Now().Add(-2 * time.Second)
	c.Put(tk)

	if c.Fresh("IDX", "13", time.Second) {
		t.Error("Fresh = true for 2s-old tick with 1s max age")
	}
	if !c.Fresh("IDX", "13", 10*time.Second) {
		t.Error("Fresh = false for 2s-old tick with 10s max age")
	}
	if c.Fresh("IDX", "999", time.Minute) {
		t.Error("Fresh = true for missing instrument")
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	c := New(discard())

	c.Put(tick("IDX", "13", 22100, time.Now()))
	c.Clear()

	if _, ok := c.Get("IDX", "13"); ok {
		t.Error("Get after Clear = true")
	}
	if c.Stats().Size != 0 {
		t.Error("Size after Clear != 0")
	}
}

func TestConcurrentPutGet(t *testing.T) {
	t.Parallel()
	c := New(discard())

	var wg sync.WaitGroup
	base := time.Now()
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Put(tick("IDX", "13", float64(i), base.Add(time.Duration(i)*time.Millisecond)))
				c.LTP("IDX", "13")
			}
		}(w)
	}
	wg.Wait()

	ltp, ok := c.LTP("IDX", "13")
	if !ok || !ltp.Equal(money.FromFloat(199)) {
		t.Errorf("final LTP = %v, want 199", ltp)
	}
}
