// scalpctl inspects a running or finished session through the durable
// store: open positions, the order trail, session P&L, feed liveness, and
// the last-known price snapshot. Read-only; it never writes a key.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/config"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/positions"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/store"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/trade"
)

const usage = `usage: scalpctl [-config path] <command>

commands:
  positions              open positions with entry, stop, and target
  orders <mode> <session>  newest-first order trail for a session
  pnl | report           current session P&L snapshot
  heartbeat              engine liveness
  ltp                    last-known price snapshot
`

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "configs/scalper.yaml", "config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal("load config: %v", err)
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		fatal("open store: %v", err)
	}
	defer st.Close()
	keys := store.Keys{NS: cfg.Store.Namespace}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "positions":
		err = showPositions(ctx, st, keys)
	case "orders":
		if len(args) != 3 {
			fatal("usage: scalpctl orders <mode> <session>")
		}
		err = showOrders(ctx, st, keys, args[1], args[2])
	case "pnl", "report":
		err = showHash(ctx, st, keys.SessionPnL())
	case "heartbeat":
		err = showHeartbeat(ctx, st, keys)
	case "ltp":
		err = showHash(ctx, st, keys.LTPSnapshot())
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatal("%v", err)
	}
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	if cfg.Driver != "sqlite" {
		return nil, fmt.Errorf("store driver %q has no cross-process view; point scalpctl at a sqlite store", cfg.Driver)
	}
	return store.OpenSQLite(cfg.Path)
}

func showPositions(ctx context.Context, st store.Store, keys store.Keys) error {
	ids, err := st.SMembers(ctx, keys.OpenPositions())
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no open positions")
		return nil
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POSITION\tQTY\tAVG\tSTOP\tTARGET\tREALIZED\tOPENED")
	for _, id := range ids {
		fields, err := st.HGetAll(ctx, keys.Position(id))
		if err != nil || len(fields) == 0 {
			continue
		}
		p := positions.Decode(fields)
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			id, p.NetQty, p.BuyAvg, p.StopLoss, p.TakeProfit, p.RealizedPnL,
			p.EntryTimestamp.Format("15:04:05"))
	}
	return w.Flush()
}

func showOrders(ctx context.Context, st store.Store, keys store.Keys, mode, session string) error {
	oids, err := st.LRange(ctx, keys.Orders(mode, session), 0, 99)
	if err != nil {
		return err
	}
	if len(oids) == 0 {
		fmt.Println("no orders")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSIDE\tSECURITY\tQTY\tPRICE\tFEE\tREASON\tORDER")
	for _, oid := range oids {
		fields, err := st.HGetAll(ctx, keys.Order(oid))
		if err != nil || len(fields) == 0 {
			continue
		}
		o := trade.DecodeOrder(fields)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			o.FilledAt.Format("15:04:05"), o.Side, o.SecurityID,
			o.FilledQuantity, o.FilledPrice, o.Fee, o.Reason, o.OrderID)
	}
	return w.Flush()
}

func showHash(ctx context.Context, st store.Store, key string) error {
	fields, err := st.HGetAll(ctx, key)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		fmt.Println("empty")
		return nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\n", name, fields[name])
	}
	return w.Flush()
}

func showHeartbeat(ctx context.Context, st store.Store, keys store.Keys) error {
	val, err := st.Get(ctx, keys.Heartbeat())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fmt.Println("no heartbeat (engine not running?)")
			return nil
		}
		return err
	}
	at, err := time.Parse(time.RFC3339, val)
	if err != nil {
		fmt.Println(val)
		return nil
	}
	fmt.Printf("last heartbeat %s (%s ago)\n", at.Format("15:04:05"), time.Since(at).Round(time.Second))
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
