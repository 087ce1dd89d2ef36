package instruments

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// SymbolParams carries the per-underlying contract parameters the picker
// needs. The engine maps these from configuration.
type SymbolParams struct {
	StrikeStep    float64
	LotSize       int
	ExpiryWeekday time.Weekday
	OptionSegment string
}

// Pick is the contract selection for one underlying at one spot price.
type Pick struct {
	Symbol  string
	Expiry  time.Time
	Segment string
	Strikes []int          // [atm−step, atm, atm+step]
	CE      map[int]string // strike → security id
	PE      map[int]string
}

// ATM returns the middle strike.
func (p Pick) ATM() int { return p.Strikes[1] }

// Picker selects nearest-expiry ATM contracts. In paper mode unresolved
// contracts get synthetic ids so dry runs keep going; in live mode an
// unresolved ATM contract fails the pick.
type Picker struct {
	resolver Resolver
	mode     types.Mode
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// NewPicker creates a contract picker. loc anchors the expiry day boundary
// to the trading session's timezone; nil means UTC.
func NewPicker(resolver Resolver, mode types.Mode, loc *time.Location, logger *slog.Logger) *Picker {
	if loc == nil {
		loc = time.UTC
	}
	return &Picker{
		resolver: resolver,
		mode:     mode,
		loc:      loc,
		now:      time.Now,
		logger:   logger.With("component", "option_picker"),
	}
}

// Pick selects the nearest expiry and the three strikes around ATM.
func (p *Picker) Pick(symbol string, spot money.Money, params SymbolParams) (Pick, error) {
	if params.StrikeStep <= 0 {
		return Pick{}, fmt.Errorf("pick %s: %w", symbol, types.ErrMissingInstrument)
	}

	step := int(params.StrikeStep)
	atm := int(math.Round(spot.Float64()/params.StrikeStep)) * step
	strikes := []int{atm - step, atm, atm + step}

	expiry := p.nearestExpiry(symbol, params.ExpiryWeekday)

	pick := Pick{
		Symbol:  symbol,
		Expiry:  expiry,
		Segment: params.OptionSegment,
		Strikes: strikes,
		CE:      make(map[int]string, len(strikes)),
		PE:      make(map[int]string, len(strikes)),
	}

	for _, strike := range strikes {
		for _, right := range []types.Right{types.Call, types.Put} {
			sid, ok := p.resolver.SecurityID(symbol, expiry, strike, right)
			if !ok {
				if p.mode == types.ModeLive {
					if strike == atm {
						return Pick{}, fmt.Errorf("pick %s %d%s %s: %w",
							symbol, strike, right, expiry.Format("2006-01-02"), types.ErrMissingInstrument)
					}
					continue
				}
				sid = syntheticID(symbol, expiry, strike, right)
			}
			if right == types.Call {
				pick.CE[strike] = sid
			} else {
				pick.PE[strike] = sid
			}
		}
	}

	p.logger.Debug("picked contracts",
		"symbol", symbol, "spot", spot, "atm", atm, "expiry", expiry.Format("2006-01-02"))
	return pick, nil
}

// SecurityIDFor returns the id for the ATM strike of the given right.
func (p Pick) SecurityIDFor(right types.Right) (string, bool) {
	m := p.CE
	if right == types.Put {
		m = p.PE
	}
	sid, ok := m[p.ATM()]
	return sid, ok
}

// nearestExpiry is the smallest known expiry on or after today; when the
// resolver has none, fall back to the next configured expiry weekday.
func (p *Picker) nearestExpiry(symbol string, wday time.Weekday) time.Time {
	// The calendar day rolls over at session-local midnight, while master
	// expiries parse to UTC midnight; compare on the session-local date.
	now := p.now().In(p.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for _, e := range p.resolver.Expiries(symbol) {
		if !e.Before(today) {
			return e
		}
	}

	d := today
	for d.Weekday() != wday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func syntheticID(symbol string, expiry time.Time, strike int, right types.Right) string {
	return fmt.Sprintf("SIM-%s-%s-%d%s", symbol, expiry.Format("20060102"), strike, right)
}
