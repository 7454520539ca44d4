package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"stockwatcher/internal/storage"
)

func TestParseSymbols(t *testing.T) {
	got := parseSymbols([]string{"aapl, msft", "", " nvda "})
	want := []string{"AAPL", "MSFT", "NVDA"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestOptionalDecimal(t *testing.T) {
	if d, err := optionalDecimal("--low", " "); err != nil || d != nil {
		t.Fatalf("blank flag should be nil, got %v %v", d, err)
	}
	d, err := optionalDecimal("--low", "101.5")
	if err != nil || !d.Equal(decimal.RequireFromString("101.5")) {
		t.Fatalf("unexpected %v %v", d, err)
	}
	if _, err := optionalDecimal("--low", "abc"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWriteAlertTable(t *testing.T) {
	var buf bytes.Buffer
	high := decimal.RequireFromString("150")
	err := writeAlertTable(&buf, []storage.AlertRule{{ID: 3, Symbol: "AAPL", Kind: storage.KindHighLow, High: &high, Status: storage.StatusActive}})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "AAPL") || !strings.Contains(out, "150") || !strings.Contains(out, "active") {
		t.Fatalf("表格内容不完整: %q", out)
	}
}
