package instruments

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

const masterCSV = `underlying,segment,security_id,expiry,strike,right,lot_size
NIFTY,NSE_FNO,44443,2026-08-27,24500,CE,75
NIFTY,NSE_FNO,44444,2026-08-27,24500,PE,75
NIFTY,NSE_FNO,44445,2026-08-27,24450,CE,75
NIFTY,NSE_FNO,44446,2026-08-27,24550,CE,75
NIFTY,NSE_FNO,44447,2026-08-27,24450,PE,75
NIFTY,NSE_FNO,44448,2026-08-27,24550,PE,75
NIFTY,NSE_FNO,55550,2026-09-03,24500,CE,75
BANKNIFTY,NSE_FNO,66660,2026-08-26,52000,CE,35
`

func loadMaster(t *testing.T) *CSVResolver {
	t.Helper()
	r, err := LoadCSV(strings.NewReader(masterCSV))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestCSVResolverLookups(t *testing.T) {
	t.Parallel()
	r := loadMaster(t)

	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	sid, ok := r.SecurityID("NIFTY", expiry, 24500, types.Call)
	if !ok || sid != "44443" {
		t.Errorf("SecurityID = %q/%v, want 44443", sid, ok)
	}
	if _, ok := r.SecurityID("NIFTY", expiry, 99999, types.Call); ok {
		t.Error("unknown strike resolved")
	}

	if ls, ok := r.LotSize("44443"); !ok || ls != 75 {
		t.Errorf("LotSize = %d/%v, want 75", ls, ok)
	}
	if seg, ok := r.SegmentOf("66660"); !ok || seg != "NSE_FNO" {
		t.Errorf("SegmentOf = %q/%v", seg, ok)
	}

	exps := r.Expiries("NIFTY")
	if len(exps) != 2 || !exps[0].Before(exps[1]) {
		t.Errorf("Expiries = %v, want two ascending dates", exps)
	}
}

func TestCSVResolverBrokerHeaderNames(t *testing.T) {
	t.Parallel()
	src := `SEM_TRADING_SYMBOL,SEM_SEGMENT,SEM_SMST_SECURITY_ID,SEM_EXPIRY_DATE,SEM_STRIKE_PRICE,SEM_OPTION_TYPE,SEM_LOT_UNITS
NIFTY,NSE_FNO,44443,2026-08-27,24500,CE,75
`
	r, err := LoadCSV(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	if sid, ok := r.SecurityID("NIFTY", expiry, 24500, types.Call); !ok || sid != "44443" {
		t.Errorf("SecurityID = %q/%v, want 44443", sid, ok)
	}
}

func TestCSVResolverRejectsMissingColumns(t *testing.T) {
	t.Parallel()
	_, err := LoadCSV(strings.NewReader("foo,bar\n1,2\n"))
	if err == nil {
		t.Fatal("expected error for unrecognized header")
	}
}

func niftyParams() SymbolParams {
	return SymbolParams{StrikeStep: 50, LotSize: 75, ExpiryWeekday: time.Thursday, OptionSegment: "NSE_FNO"}
}

func testPicker(t *testing.T, mode types.Mode, now time.Time) *Picker {
	t.Helper()
	p := NewPicker(loadMaster(t), mode, time.UTC, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return now }
	return p
}

func TestPickATMStrikeRounding(t *testing.T) {
	t.Parallel()
	p := testPicker(t, types.ModePaper, time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC))

	pick, err := p.Pick("NIFTY", money.FromFloat(24512.35), niftyParams())
	if err != nil {
		t.Fatal(err)
	}
	if pick.ATM() != 24500 {
		t.Errorf("ATM = %d, want 24500", pick.ATM())
	}
	want := []int{24450, 24500, 24550}
	for i, s := range want {
		if pick.Strikes[i] != s {
			t.Errorf("Strikes[%d] = %d, want %d", i, pick.Strikes[i], s)
		}
	}

	// 24526 rounds up to 24550.
	pick, err = p.Pick("NIFTY", money.FromFloat(24526), niftyParams())
	if err != nil {
		t.Fatal(err)
	}
	if pick.ATM() != 24550 {
		t.Errorf("ATM = %d, want 24550", pick.ATM())
	}
}

func TestPickNearestExpiry(t *testing.T) {
	t.Parallel()
	p := testPicker(t, types.ModePaper, time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC))

	pick, err := p.Pick("NIFTY", money.New(24500), niftyParams())
	if err != nil {
		t.Fatal(err)
	}
	if got := pick.Expiry.Format("2006-01-02"); got != "2026-08-27" {
		t.Errorf("Expiry = %s, want 2026-08-27", got)
	}

	sid, ok := pick.SecurityIDFor(types.Call)
	if !ok || sid != "44443" {
		t.Errorf("ATM CE = %q/%v, want 44443", sid, ok)
	}
}

func TestPickExpiryDayBoundaryInSessionTZ(t *testing.T) {
	t.Parallel()
	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatal(err)
	}

	// 19:30 UTC on the 27th is already 01:00 on the 28th in IST: the
	// 2026-08-27 contracts have expired and must not be picked.
	p := NewPicker(loadMaster(t), types.ModePaper, ist, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return time.Date(2026, 8, 27, 19, 30, 0, 0, time.UTC) }

	pick, err := p.Pick("NIFTY", money.New(24500), niftyParams())
	if err != nil {
		t.Fatal(err)
	}
	if got := pick.Expiry.Format("2006-01-02"); got != "2026-09-03" {
		t.Errorf("Expiry = %s, want next week's 2026-09-03", got)
	}
}

func TestPickExpiryWeekdayFallback(t *testing.T) {
	t.Parallel()
	// Past every master expiry: the resolver has nothing, so the picker
	// falls back to the next Thursday.
	p := testPicker(t, types.ModePaper, time.Date(2026, 10, 5, 10, 0, 0, 0, time.UTC)) // a Monday

	pick, err := p.Pick("NIFTY", money.New(24500), niftyParams())
	if err != nil {
		t.Fatal(err)
	}
	if got := pick.Expiry.Format("2006-01-02"); got != "2026-10-08" {
		t.Errorf("fallback expiry = %s, want Thursday 2026-10-08", got)
	}
	if pick.Expiry.Weekday() != time.Thursday {
		t.Errorf("fallback weekday = %v", pick.Expiry.Weekday())
	}
}

func TestPickPaperSyntheticIDs(t *testing.T) {
	t.Parallel()
	p := testPicker(t, types.ModePaper, time.Date(2026, 10, 5, 10, 0, 0, 0, time.UTC))

	pick, err := p.Pick("NIFTY", money.New(24500), niftyParams())
	if err != nil {
		t.Fatal(err)
	}
	sid, ok := pick.SecurityIDFor(types.Put)
	if !ok || !strings.HasPrefix(sid, "SIM-NIFTY-20261008-24500") {
		t.Errorf("synthetic id = %q/%v", sid, ok)
	}
}

func TestPickLiveFailsOnMissingATM(t *testing.T) {
	t.Parallel()
	p := testPicker(t, types.ModeLive, time.Date(2026, 10, 5, 10, 0, 0, 0, time.UTC))

	_, err := p.Pick("NIFTY", money.New(24500), niftyParams())
	if !errors.Is(err, types.ErrMissingInstrument) {
		t.Fatalf("err = %v, want ErrMissingInstrument", err)
	}
}

func TestSizerLots(t *testing.T) {
	t.Parallel()
	s := Sizer{AllocationPct: 0.30, SlippageBufferPct: 0.01, MaxLotsPerTrade: 10}

	cases := []struct {
		name      string
		available int64
		premium   float64
		lotSize   int
		qtyCap    int
		want      int
	}{
		// 30000 / (101·75) = 3.96 → 3
		{"typical", 100000, 100, 75, 0, 3},
		{"premium zero", 100000, 0, 75, 0, 0},
		{"balance zero", 0, 100, 75, 0, 0},
		{"lot size missing", 100000, 100, 0, 0, 0},
		// raw 39.6 → clamp to max_lots_per_trade
		{"per trade cap", 1000000, 100, 75, 0, 10},
		{"symbol cap tighter", 1000000, 100, 75, 2, 2},
		{"cannot afford one lot", 10000, 100, 75, 0, 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := s.Lots(money.New(tc.available), money.FromFloat(tc.premium), tc.lotSize, tc.qtyCap)
			if got != tc.want {
				t.Errorf("Lots = %d, want %d", got, tc.want)
			}
		})
	}
}
