package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestTwelveDataMissingSymbol(t *testing.T) {
	td := NewTwelveData(TwelveDataOptions{}, noopLogger())
	if _, err := td.Series(context.Background(), "key", "", "1min", 1); err == nil {
		t.Fatal("缺少 symbol 时应返回错误")
	}
}

func TestTwelveDataHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 400, "message": "bad symbol", "status": "error"})
	}))
	defer srv.Close()

	td := NewTwelveData(TwelveDataOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := td.Series(context.Background(), "key", "AAPL", "1min", 1); err == nil {
		t.Fatal("HTTP 400 应返回错误")
	}
}

func TestTwelveDataErrorStatusBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 429, "message": "run out of API credits", "status": "error"})
	}))
	defer srv.Close()

	td := NewTwelveData(TwelveDataOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := td.Series(context.Background(), "key", "AAPL", "1min", 1); err == nil {
		t.Fatal("status=error 的响应体应返回错误")
	}
}

func TestTwelveDataEmptySeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"values": []any{}, "status": "ok"})
	}))
	defer srv.Close()

	td := NewTwelveData(TwelveDataOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := td.Series(context.Background(), "key", "AAPL", "1min", 1); !errors.Is(err, ErrEmptySeries) {
		t.Fatalf("期望 ErrEmptySeries, 实际 %v", err)
	}
}

func TestTwelveDataSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("symbol") != "AAPL" || q.Get("apikey") != "key-1" || q.Get("outputsize") != "1" {
			t.Fatalf("查询参数不正确: %s", r.URL.RawQuery)
		}
		if q.Get("timezone") != "America/New_York" {
			t.Fatalf("timezone 参数不正确: %s", q.Get("timezone"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"meta": map[string]string{"symbol": "AAPL", "interval": "1min"},
			"values": []map[string]string{
				{"datetime": "2025-05-02 15:59:00", "open": "205.1", "close": "205.35"},
			},
			"status": "ok",
		})
	}))
	defer srv.Close()

	td := NewTwelveData(TwelveDataOptions{BaseURL: srv.URL, Timeout: time.Second, UserAgent: "test"}, noopLogger())
	points, err := td.Series(context.Background(), "key-1", "AAPL", "1min", 1)
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("期望 1 个数据点, 实际 %d", len(points))
	}
	if !points[0].Close.Equal(decimal.RequireFromString("205.35")) {
		t.Fatalf("期望收盘价 205.35, 实际 %s", points[0].Close)
	}
	want := time.Date(2025, 5, 2, 19, 59, 0, 0, time.UTC)
	if !points[0].At.Equal(want) {
		t.Fatalf("期望时间 %s, 实际 %s", want, points[0].At)
	}
}

func TestTwelveDataTransportErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	const secret = "sk-live-123456789"
	td := NewTwelveData(TwelveDataOptions{BaseURL: base, Timeout: time.Second}, noopLogger())
	_, err := td.Series(context.Background(), secret, "AAPL", "1min", 1)
	if err == nil {
		t.Fatal("连接已关闭的服务应返回错误")
	}
	if strings.Contains(err.Error(), secret) || strings.Contains(err.Error(), "apikey") {
		t.Fatalf("错误信息泄露了 API key: %v", err)
	}
}

func TestTwelveDataCancelledKeepsContextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	td := NewTwelveData(TwelveDataOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := td.Series(ctx, "key", "AAPL", "1min", 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
