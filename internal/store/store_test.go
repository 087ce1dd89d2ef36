package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// backends returns a fresh instance of every Store implementation so the
// whole contract suite runs against both.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestHashOps(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := s.HSet(ctx, "pos:1", map[string]string{"net_qty": "75", "buy_avg": "100.00"}); err != nil {
				t.Fatal(err)
			}
			if err := s.HSet(ctx, "pos:1", map[string]string{"net_qty": "150"}); err != nil {
				t.Fatal(err)
			}

			v, err := s.HGet(ctx, "pos:1", "net_qty")
			if err != nil || v != "150" {
				t.Errorf("HGet net_qty = %q, %v; want 150", v, err)
			}
			all, err := s.HGetAll(ctx, "pos:1")
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 2 || all["buy_avg"] != "100.00" {
				t.Errorf("HGetAll = %v", all)
			}
			if _, err := s.HGet(ctx, "pos:1", "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("HGet missing field err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSetOps(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := s.SAdd(ctx, "pos:open", "a", "b", "a"); err != nil {
				t.Fatal(err)
			}
			members, err := s.SMembers(ctx, "pos:open")
			if err != nil || len(members) != 2 {
				t.Errorf("SMembers = %v, %v; want 2 members", members, err)
			}
			if err := s.SRem(ctx, "pos:open", "a"); err != nil {
				t.Fatal(err)
			}
			members, _ = s.SMembers(ctx, "pos:open")
			if len(members) != 1 || members[0] != "b" {
				t.Errorf("after SRem members = %v, want [b]", members)
			}
		})
	}
}

func TestListOps(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, oid := range []string{"o1", "o2", "o3"} {
				if err := s.LPush(ctx, "orders:paper:s1", oid); err != nil {
					t.Fatal(err)
				}
			}

			got, err := s.LRange(ctx, "orders:paper:s1", 0, -1)
			if err != nil {
				t.Fatal(err)
			}
			want := []string{"o3", "o2", "o1"} // newest first
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("LRange = %v, want %v", got, want)
				}
			}

			if err := s.LTrim(ctx, "orders:paper:s1", 0, 1); err != nil {
				t.Fatal(err)
			}
			got, _ = s.LRange(ctx, "orders:paper:s1", 0, -1)
			if len(got) != 2 || got[0] != "o3" || got[1] != "o2" {
				t.Errorf("after LTrim = %v, want [o3 o2]", got)
			}
		})
	}
}

func TestStringAndTTL(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := s.SetNX(ctx, "locks:trade", "owner1", 30*time.Millisecond)
			if err != nil || !ok {
				t.Fatalf("SetNX first = %v, %v; want true", ok, err)
			}
			ok, _ = s.SetNX(ctx, "locks:trade", "owner2", 30*time.Millisecond)
			if ok {
				t.Error("SetNX second = true, want false while lock held")
			}

			time.Sleep(50 * time.Millisecond)
			if _, err := s.Get(ctx, "locks:trade"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after TTL err = %v, want ErrNotFound", err)
			}
			ok, _ = s.SetNX(ctx, "locks:trade", "owner2", 30*time.Millisecond)
			if !ok {
				t.Error("SetNX after expiry = false, want true")
			}
		})
	}
}

func TestExpireHash(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := s.HSet(ctx, "ltp:snapshot", map[string]string{"IDX:13": "22100.00"}); err != nil {
				t.Fatal(err)
			}
			if err := s.Expire(ctx, "ltp:snapshot", 20*time.Millisecond); err != nil {
				t.Fatal(err)
			}
			time.Sleep(40 * time.Millisecond)
			all, err := s.HGetAll(ctx, "ltp:snapshot")
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 0 {
				t.Errorf("hash survived TTL: %v", all)
			}
		})
	}
}

func TestAtomicRollback(t *testing.T) {
	boom := errors.New("boom")
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			err := s.Atomic(ctx, func(tx Store) error {
				if err := tx.HSet(ctx, "pos:9", map[string]string{"net_qty": "75"}); err != nil {
					return err
				}
				if err := tx.SAdd(ctx, "pos:open", "9"); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("Atomic err = %v, want boom", err)
			}

			all, _ := s.HGetAll(ctx, "pos:9")
			if len(all) != 0 {
				t.Errorf("rollback leaked hash write: %v", all)
			}
			members, _ := s.SMembers(ctx, "pos:open")
			if len(members) != 0 {
				t.Errorf("rollback leaked set write: %v", members)
			}
		})
	}
}

func TestAtomicCommit(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			err := s.Atomic(ctx, func(tx Store) error {
				if err := tx.HSet(ctx, "pos:7", map[string]string{"net_qty": "75"}); err != nil {
					return err
				}
				return tx.SAdd(ctx, "pos:open", "7")
			})
			if err != nil {
				t.Fatal(err)
			}

			v, err := s.HGet(context.Background(), "pos:7", "net_qty")
			if err != nil || v != "75" {
				t.Errorf("committed HGet = %q, %v", v, err)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()
	k := Keys{NS: "scalper"}

	tests := []struct{ got, want string }{
		{k.Position("p1"), "scalper:pos:p1"},
		{k.OpenPositions(), "scalper:pos:open"},
		{k.Orders("paper", "s1"), "scalper:orders:paper:s1"},
		{k.Tick("NSE_FNO", "44443"), "scalper:ticks:NSE_FNO:44443"},
		{k.SessionPnL(), "scalper:pnl:session"},
		{k.Lock("trade"), "scalper:locks:trade"},
		{k.Idempotency("x"), "scalper:idemp:x"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}
