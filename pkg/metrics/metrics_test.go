package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestIndependentRegistries(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.TxsApplied.WithLabelValues("deposit").Inc()

	want := `limitorders_txs_applied_total{type="deposit"} 1`
	if !strings.Contains(scrape(t, a), want) {
		t.Errorf("a missing %q", want)
	}
	if strings.Contains(scrape(t, b), "limitorders_txs_applied_total{") {
		t.Error("b shares a's counter")
	}
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.BlockHeight.Set(7)
	m.TxsRejected.WithLabelValues("fulfill_order", "AmountMismatch").Inc()

	body := scrape(t, m)
	for _, want := range []string{
		"limitorders_block_height 7",
		`limitorders_txs_rejected_total{kind="AmountMismatch",type="fulfill_order"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
