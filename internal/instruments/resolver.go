// Package instruments resolves tradeable option contracts: the instrument
// master lookup, ATM strike and nearest-expiry selection, and lot sizing.
package instruments

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// Resolver looks up contracts in the instrument master. Implementations are
// read-only after load and safe for concurrent use.
type Resolver interface {
	// Expiries returns the known expiry dates for an underlying, sorted
	// ascending.
	Expiries(symbol string) []time.Time

	// SecurityID resolves (underlying, expiry, strike, right) to the broker
	// security id.
	SecurityID(symbol string, expiry time.Time, strike int, right types.Right) (string, bool)

	LotSize(securityID string) (int, bool)
	SegmentOf(securityID string) (string, bool)
}

type contractKey struct {
	symbol string
	expiry string // yyyy-mm-dd
	strike int
	right  types.Right
}

// CSVResolver is the instrument master loaded from the broker's scrip CSV.
type CSVResolver struct {
	expiries  map[string][]time.Time
	contracts map[contractKey]string
	lots      map[string]int
	segments  map[string]string
}

var _ Resolver = (*CSVResolver)(nil)

// Column aliases accepted in the master header row. The broker publishes
// SEM_*-prefixed names; fixtures use the short forms.
var headerAliases = map[string]string{
	"underlying":          "underlying",
	"sem_trading_symbol":  "underlying",
	"segment":             "segment",
	"sem_segment":         "segment",
	"security_id":         "security_id",
	"sem_smst_security_id": "security_id",
	"expiry":              "expiry",
	"sem_expiry_date":     "expiry",
	"strike":              "strike",
	"sem_strike_price":    "strike",
	"right":               "right",
	"sem_option_type":     "right",
	"lot_size":            "lot_size",
	"sem_lot_units":       "lot_size",
}

// LoadCSV parses an instrument master. Rows that do not describe an option
// contract (missing expiry or strike) are skipped.
func LoadCSV(r io.Reader) (*CSVResolver, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("instrument master header: %w", err)
	}
	cols := make(map[string]int)
	for i, h := range header {
		if name, ok := headerAliases[strings.ToLower(strings.TrimSpace(h))]; ok {
			cols[name] = i
		}
	}
	for _, required := range []string{"underlying", "security_id"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("instrument master missing column %q", required)
		}
	}

	res := &CSVResolver{
		expiries:  make(map[string][]time.Time),
		contracts: make(map[contractKey]string),
		lots:      make(map[string]int),
		segments:  make(map[string]string),
	}
	seenExpiry := make(map[string]map[string]bool)

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("instrument master row: %w", err)
		}

		sid := field(row, "security_id")
		symbol := strings.ToUpper(field(row, "underlying"))
		if sid == "" || symbol == "" {
			continue
		}
		if seg := field(row, "segment"); seg != "" {
			res.segments[sid] = seg
		}
		if ls, err := strconv.Atoi(field(row, "lot_size")); err == nil && ls > 0 {
			res.lots[sid] = ls
		}

		expiry, err := parseExpiry(field(row, "expiry"))
		if err != nil {
			continue
		}
		strike, err := strconv.ParseFloat(field(row, "strike"), 64)
		if err != nil || strike <= 0 {
			continue
		}
		right := types.Right(strings.ToUpper(field(row, "right")))
		if right != types.Call && right != types.Put {
			continue
		}

		day := expiry.Format("2006-01-02")
		res.contracts[contractKey{symbol: symbol, expiry: day, strike: int(strike), right: right}] = sid

		if seenExpiry[symbol] == nil {
			seenExpiry[symbol] = make(map[string]bool)
		}
		if !seenExpiry[symbol][day] {
			seenExpiry[symbol][day] = true
			res.expiries[symbol] = append(res.expiries[symbol], expiry)
		}
	}

	for sym := range res.expiries {
		sort.Slice(res.expiries[sym], func(i, j int) bool {
			return res.expiries[sym][i].Before(res.expiries[sym][j])
		})
	}
	return res, nil
}

// LoadCSVFile loads the instrument master from disk.
func LoadCSVFile(path string) (*CSVResolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("instrument master: %w", err)
	}
	defer f.Close()
	return LoadCSV(f)
}

// FetchCSV downloads and parses the instrument master from the broker.
func FetchCSV(ctx context.Context, client *resty.Client, url string) (*CSVResolver, error) {
	resp, err := client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch instrument master: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch instrument master: status %d", resp.StatusCode())
	}
	return LoadCSV(body)
}

func parseExpiry(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "02-Jan-2006", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized expiry %q", s)
}

func (r *CSVResolver) Expiries(symbol string) []time.Time {
	out := r.expiries[strings.ToUpper(symbol)]
	cp := make([]time.Time, len(out))
	copy(cp, out)
	return cp
}

func (r *CSVResolver) SecurityID(symbol string, expiry time.Time, strike int, right types.Right) (string, bool) {
	sid, ok := r.contracts[contractKey{
		symbol: strings.ToUpper(symbol),
		expiry: expiry.Format("2006-01-02"),
		strike: strike,
		right:  right,
	}]
	return sid, ok
}

func (r *CSVResolver) LotSize(securityID string) (int, bool) {
	ls, ok := r.lots[securityID]
	return ls, ok
}

func (r *CSVResolver) SegmentOf(securityID string) (string, bool) {
	seg, ok := r.segments[securityID]
	return seg, ok
}
