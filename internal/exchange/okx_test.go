package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpdesk/perpdesk/internal/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OKXClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOKXClient(OKXConfig{
		BaseURL:            srv.URL,
		APIKey:             "key",
		SecretKey:          "secret",
		Passphrase:         "pass",
		Simulated:          true,
		RateLimitPerSecond: 100,
	})
}

func TestOKXClient_SignedHeaders(t *testing.T) {
	var got http.Header
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{"code":"0","msg":"","data":[{"details":[{"availBal":"100"}]}]}`))
	})

	if _, err := client.GetBalance(context.Background()); err != nil {
		t.Fatalf("get balance: %v", err)
	}

	for _, h := range []string{"Ok-Access-Key", "Ok-Access-Sign", "Ok-Access-Timestamp", "Ok-Access-Passphrase"} {
		if got.Get(h) == "" {
			t.Errorf("header %s not set", h)
		}
	}
	if got.Get("X-Simulated-Trading") != "1" {
		t.Error("simulated-trading header not set")
	}
}

func TestOKXClient_EnvelopeRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"51000","msg":"Parameter posSide error","data":[]}`))
	})

	err := client.SetLeverage(context.Background(), "BTC-USDT-SWAP", 5, "isolated")
	var ee *types.ExchangeError
	if !errors.As(err, &ee) {
		t.Fatalf("got %v, want ExchangeError", err)
	}
	if ee.Code != "51000" {
		t.Errorf("code = %q, want 51000", ee.Code)
	}
}

func TestOKXClient_PlaceOrder(t *testing.T) {
	var body map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"312269865356374016"}],"outTime":"1597026383085123"}`))
	})

	ack, err := client.PlaceOrder(context.Background(), PlaceOrderRequest{
		Instrument:    "BTC-USDT-SWAP",
		MarginMode:    "isolated",
		Side:          types.SideShort,
		Type:          types.OrderTypeMarket,
		Size:          decimal.NewFromInt(20),
		ClientOrderID: "abc123",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if ack.OrderID != "312269865356374016" {
		t.Errorf("order id = %q", ack.OrderID)
	}
	want := time.UnixMicro(1597026383085123).UTC()
	if !ack.OutTime.Equal(want) {
		t.Errorf("out time = %v, want %v", ack.OutTime, want)
	}
	if body["side"] != "sell" || body["posSide"] != "short" {
		t.Errorf("short entry sides: side=%q posSide=%q", body["side"], body["posSide"])
	}
	if body["ordType"] != "market" || body["sz"] != "20" {
		t.Errorf("order fields: ordType=%q sz=%q", body["ordType"], body["sz"])
	}
	if _, ok := body["px"]; ok {
		t.Error("market order must not carry a limit price")
	}
}

func TestOKXClient_PlaceAlgoOrder(t *testing.T) {
	var body map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"code":"0","msg":"","data":[{"algoId":"1836487817828872192"}]}`))
	})

	id, err := client.PlaceAlgoOrder(context.Background(), AlgoOrderRequest{
		Instrument:   "BTC-USDT-SWAP",
		MarginMode:   "isolated",
		Side:         types.SideLong,
		Size:         decimal.NewFromInt(20),
		TriggerPrice: decimal.RequireFromString("60000"),
	})
	if err != nil {
		t.Fatalf("place algo order: %v", err)
	}

	if id != "1836487817828872192" {
		t.Errorf("algo id = %q", id)
	}
	// A long position is protected by a sell-side conditional order.
	if body["side"] != "sell" {
		t.Errorf("stop side = %q, want sell", body["side"])
	}
	if body["slTriggerPx"] != "60000" || body["slOrdPx"] != "-1" {
		t.Errorf("stop fields: slTriggerPx=%q slOrdPx=%q", body["slTriggerPx"], body["slOrdPx"])
	}
	if _, ok := body["tpTriggerPx"]; ok {
		t.Error("stop-loss request must not set take-profit fields")
	}
}

func TestOKXClient_GetCandles_AscendingOrder(t *testing.T) {
	// The exchange returns newest first; the client reverses.
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","msg":"","data":[
			["1700003600000","2","3","1","2.5","10","25","25000","1"],
			["1700000000000","1","2","0.5","1.5","20","30","30000","1"]
		]}`))
	})

	rows, err := client.GetCandles(context.Background(), "ETH-USDT-SWAP", "1H", 2)
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if !rows[0].Timestamp.Before(rows[1].Timestamp) {
		t.Error("candles not in ascending timestamp order")
	}
	if rows[0].Open.String() != "1" || rows[0].VolumeQuote.String() != "30000" {
		t.Errorf("oldest row fields: open=%s volQuote=%s", rows[0].Open, rows[0].VolumeQuote)
	}
}

func TestSign_Deterministic(t *testing.T) {
	a := sign("secret", "2020-08-10T03:06:23.085Z", "POST", "/api/v5/trade/order", `{"instId":"BTC-USDT-SWAP"}`)
	b := sign("secret", "2020-08-10T03:06:23.085Z", "POST", "/api/v5/trade/order", `{"instId":"BTC-USDT-SWAP"}`)
	if a != b {
		t.Error("signature not deterministic")
	}

	c := sign("other", "2020-08-10T03:06:23.085Z", "POST", "/api/v5/trade/order", `{"instId":"BTC-USDT-SWAP"}`)
	if a == c {
		t.Error("different secrets produced the same signature")
	}
}
