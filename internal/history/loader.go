// Package history fetches intraday candles to warm up the indicator engine
// before live ticks start building bars.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/config"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// Loader reads the historical candle endpoint.
type Loader struct {
	http   *resty.Client
	cfg    config.HistoryConfig
	logger *slog.Logger
}

// candleResponse is the columnar payload the endpoint returns.
type candleResponse struct {
	Open      []float64 `json:"open"`
	High      []float64 `json:"high"`
	Low       []float64 `json:"low"`
	Close     []float64 `json:"close"`
	Volume    []int64   `json:"volume"`
	Timestamp []int64   `json:"timestamp"` // unix seconds
}

// NewLoader creates a candle loader.
func NewLoader(cfg config.HistoryConfig, accessToken string, logger *slog.Logger) *Loader {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("access-token", accessToken)

	return &Loader{http: httpClient, cfg: cfg, logger: logger.With("component", "history")}
}

// Intraday fetches up to warmup_bars candles for an instrument at the given
// interval ("5m", "15m", ...), oldest first.
func (l *Loader) Intraday(ctx context.Context, segment, securityID, interval string) ([]types.Candle, error) {
	var payload candleResponse
	resp, err := l.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"exchangeSegment": segment,
			"securityId":      securityID,
			"interval":        interval,
			"bars":            l.cfg.WarmupBars,
		}).
		SetResult(&payload).
		Post("/v2/charts/intraday")
	if err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch candles: status %d: %s", resp.StatusCode(), resp.String())
	}

	n := len(payload.Close)
	if len(payload.Open) != n || len(payload.High) != n || len(payload.Low) != n || len(payload.Timestamp) != n {
		return nil, fmt.Errorf("fetch candles: ragged columns")
	}

	candles := make([]types.Candle, n)
	for i := 0; i < n; i++ {
		var vol int64
		if i < len(payload.Volume) {
			vol = payload.Volume[i]
		}
		candles[i] = types.Candle{
			Timestamp: time.Unix(payload.Timestamp[i], 0),
			Open:      payload.Open[i],
			High:      payload.High[i],
			Low:       payload.Low[i],
			Close:     payload.Close[i],
			Volume:    vol,
		}
	}

	l.logger.Debug("warm-up candles loaded",
		"security_id", securityID, "interval", interval, "bars", n)
	return candles, nil
}
