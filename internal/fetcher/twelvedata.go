package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	timeSeriesPath  = "/time_series"
	providerTZ      = "America/New_York"
	intradayLayout  = "2006-01-02 15:04:05"
	dailyLayout     = "2006-01-02"
	defaultBaseURL  = "https://api.twelvedata.com"
	defaultInterval = "1min"
)

// ErrEmptySeries is returned when the provider answers without any points.
var ErrEmptySeries = errors.New("provider returned an empty series")

// TwelveDataOptions parameterise the Twelve Data client.
type TwelveDataOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// TwelveData fetches intraday time series from the Twelve Data REST API.
type TwelveData struct {
	opts    TwelveDataOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	loc     *time.Location
}

// NewTwelveData constructs a Twelve Data client.
func NewTwelveData(opts TwelveDataOptions, logger zerolog.Logger) *TwelveData {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	loc, err := time.LoadLocation(providerTZ)
	if err != nil {
		loc = time.UTC
	}

	return &TwelveData{
		opts:    opts,
		logger:  logger.With().Str("component", "twelvedata").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		loc:     loc,
	}
}

// Series returns up to size points for symbol, newest first.
func (t *TwelveData) Series(ctx context.Context, credential, symbol, interval string, size int) ([]Point, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, errors.New("symbol required")
	}
	if interval == "" {
		interval = defaultInterval
	}
	if size <= 0 {
		size = 1
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", interval)
	query.Set("outputsize", strconv.Itoa(size))
	query.Set("timezone", providerTZ)
	query.Set("apikey", credential)

	endpoint := t.baseURL + timeSeriesPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build time series request %s: %w", symbol, redactURLError(err))
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(t.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "stockwatcher/1.0")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("time series %s: %w", symbol, redactURLError(err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var series seriesResponse
	if err := json.Unmarshal(payload, &series); err != nil {
		return nil, fmt.Errorf("decode time series: %w", err)
	}
	if strings.EqualFold(series.Status, "error") {
		return nil, fmt.Errorf("twelvedata error (%d): %s", series.Code, series.Message)
	}
	if len(series.Values) == 0 {
		return nil, ErrEmptySeries
	}

	points := make([]Point, 0, len(series.Values))
	for _, v := range series.Values {
		at, err := t.parseTime(v.Datetime)
		if err != nil {
			return nil, fmt.Errorf("parse datetime %q: %w", v.Datetime, err)
		}
		closePrice, err := decimal.NewFromString(v.Close)
		if err != nil {
			return nil, fmt.Errorf("parse close %q: %w", v.Close, err)
		}
		points = append(points, Point{At: at, Close: closePrice})
	}

	t.logger.Debug().Str("symbol", symbol).Int("points", len(points)).Msg("time series fetched")
	return points, nil
}

func (t *TwelveData) parseTime(raw string) (time.Time, error) {
	layout := intradayLayout
	if len(raw) == len(dailyLayout) {
		layout = dailyLayout
	}
	ts, err := time.ParseInLocation(layout, raw, t.loc)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

type seriesResponse struct {
	Values []struct {
		Datetime string `json:"datetime"`
		Close    string `json:"close"`
	} `json:"values"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr seriesResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("twelvedata api error (%d): %s", status, apiErr.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("twelvedata api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("twelvedata api error (%d)", status)
}

var _ QuoteProvider = (*TwelveData)(nil)

// redactURLError drops the request URL, which carries the API key, from
// transport errors.
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
