package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/perpdesk/perpdesk/internal/types"
)

const defaultBaseURL = "https://www.okx.com"

// OKXConfig holds OKX REST client settings.
type OKXConfig struct {
	BaseURL            string
	APIKey             string
	SecretKey          string
	Passphrase         string
	Simulated          bool
	RateLimitPerSecond int
	Timeout            time.Duration
}

// OKXClient implements Exchange over the OKX v5 REST API.
type OKXClient struct {
	cfg     OKXConfig
	rest    *resty.Client
	limiter *rate.Limiter
}

// NewOKXClient creates an OKX REST client.
func NewOKXClient(cfg OKXConfig) *OKXClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	rest := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	return &OKXClient{
		cfg:     cfg,
		rest:    rest,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitPerSecond),
	}
}

// envelope is the OKX v5 result wrapper. A code other than "0" is a
// hard failure regardless of HTTP status.
type envelope struct {
	Code    string          `json:"code"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
	OutTime string          `json:"outTime"`
}

// sign computes the OKX v5 request signature:
// base64(HMAC-SHA256(secret, timestamp + method + path + body)).
func sign(secret, timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *OKXClient) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var payload string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		payload = string(raw)
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	req := c.rest.R().
		SetContext(ctx).
		SetHeader("OK-ACCESS-KEY", c.cfg.APIKey).
		SetHeader("OK-ACCESS-SIGN", sign(c.cfg.SecretKey, timestamp, method, path, payload)).
		SetHeader("OK-ACCESS-TIMESTAMP", timestamp).
		SetHeader("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	if c.cfg.Simulated {
		req.SetHeader("x-simulated-trading", "1")
	}
	if payload != "" {
		req.SetBody(payload)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if env.Code != "0" {
		return nil, &types.ExchangeError{Code: env.Code, Message: env.Msg}
	}
	return &env, nil
}

// GetBalance returns the available balance of the first account detail.
func (c *OKXClient) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/v5/account/balance", nil)
	if err != nil {
		return decimal.Zero, err
	}

	var data []struct {
		Details []struct {
			AvailBal decimal.Decimal `json:"availBal"`
		} `json:"details"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return decimal.Zero, fmt.Errorf("decode balance: %w", err)
	}
	if len(data) == 0 || len(data[0].Details) == 0 {
		return decimal.Zero, fmt.Errorf("decode balance: %w", types.ErrInvalidFormat)
	}
	return data[0].Details[0].AvailBal, nil
}

// SetLeverage sets the leverage for an instrument. Setting the same
// leverage twice is a no-op on the exchange side but is always issued.
func (c *OKXClient) SetLeverage(ctx context.Context, instrument string, leverage int, marginMode string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v5/account/set-leverage", map[string]string{
		"instId":  instrument,
		"lever":   strconv.Itoa(leverage),
		"mgnMode": marginMode,
	})
	return err
}

// PlaceOrder submits an entry order and returns the exchange order id
// together with the gateway out-time.
func (c *OKXClient) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderAck, error) {
	body := map[string]string{
		"instId":  req.Instrument,
		"tdMode":  req.MarginMode,
		"clOrdId": req.ClientOrderID,
		"side":    req.Side.EntryOrderSide(),
		"posSide": req.Side.String(),
		"ordType": req.Type.String(),
		"sz":      req.Size.String(),
	}
	if req.Type == types.OrderTypeLimit {
		body["px"] = req.LimitPrice.String()
	}

	env, err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", body)
	if err != nil {
		return nil, err
	}

	var data []struct {
		OrderID string `json:"ordId"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || len(data) == 0 {
		return nil, fmt.Errorf("decode order ack: %w", types.ErrInvalidFormat)
	}

	outTime, err := parseMicros(env.OutTime)
	if err != nil {
		return nil, fmt.Errorf("decode order ack out-time: %w", err)
	}

	return &OrderAck{OrderID: data[0].OrderID, OutTime: outTime}, nil
}

// PlaceAlgoOrder submits a conditional stop-loss or take-profit order.
// The trigger executes at market (-1 order price), on last traded price.
func (c *OKXClient) PlaceAlgoOrder(ctx context.Context, req AlgoOrderRequest) (string, error) {
	body := map[string]string{
		"instId":  req.Instrument,
		"tdMode":  req.MarginMode,
		"side":    req.Side.CloseOrderSide(),
		"posSide": req.Side.String(),
		"ordType": "conditional",
		"sz":      req.Size.String(),
	}
	if req.TakeProfit {
		body["tpTriggerPx"] = req.TriggerPrice.String()
		body["tpOrdPx"] = "-1"
		body["tpTriggerPxType"] = "last"
	} else {
		body["slTriggerPx"] = req.TriggerPrice.String()
		body["slOrdPx"] = "-1"
		body["slTriggerPxType"] = "last"
	}

	env, err := c.do(ctx, http.MethodPost, "/api/v5/trade/order-algo", body)
	if err != nil {
		return "", err
	}

	var data []struct {
		AlgoID string `json:"algoId"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || len(data) == 0 {
		return "", fmt.Errorf("decode algo order ack: %w", types.ErrInvalidFormat)
	}
	return data[0].AlgoID, nil
}

// GetOrder fetches an order by id.
func (c *OKXClient) GetOrder(ctx context.Context, instrument, orderID string) (*OrderDetail, error) {
	path := fmt.Sprintf("/api/v5/trade/order?instId=%s&ordId=%s", instrument, orderID)
	env, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var data []struct {
		OrderID string `json:"ordId"`
		State   string `json:"state"`
		AvgPx   string `json:"avgPx"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || len(data) == 0 {
		return nil, fmt.Errorf("decode order: %w", types.ErrInvalidFormat)
	}

	avg := decimal.Zero
	if data[0].AvgPx != "" {
		avg, err = decimal.NewFromString(data[0].AvgPx)
		if err != nil {
			return nil, fmt.Errorf("decode avg fill price: %w", err)
		}
	}
	return &OrderDetail{
		OrderID:      data[0].OrderID,
		State:        data[0].State,
		AvgFillPrice: avg,
	}, nil
}

// GetInstruments fetches the full swap contract listing.
func (c *OKXClient) GetInstruments(ctx context.Context) ([]Instrument, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/v5/account/instruments?instType=SWAP", nil)
	if err != nil {
		return nil, err
	}

	var data []Instrument
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode instruments: %w", err)
	}
	return data, nil
}

// GetTicker returns the last traded price for an instrument.
func (c *OKXClient) GetTicker(ctx context.Context, instrument string) (decimal.Decimal, error) {
	path := fmt.Sprintf("/api/v5/market/ticker?instId=%s", instrument)
	env, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return decimal.Zero, err
	}

	var data []struct {
		Last decimal.Decimal `json:"last"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || len(data) == 0 {
		return decimal.Zero, fmt.Errorf("decode ticker: %w", types.ErrInvalidFormat)
	}
	return data[0].Last, nil
}

// GetCandles fetches historical candles, oldest first.
func (c *OKXClient) GetCandles(ctx context.Context, instrument, timeframe string, limit int) ([]types.PriceRow, error) {
	path := fmt.Sprintf("/api/v5/market/history-candles?instId=%s&bar=%s&limit=%d",
		instrument, timeframe, limit)
	env, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	// Rows arrive as [ts, open, high, low, close, vol, volCcy, volCcyQuote, confirm],
	// newest first.
	var data [][]string
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}

	rows := make([]types.PriceRow, 0, len(data))
	for i := len(data) - 1; i >= 0; i-- {
		row, err := parseCandle(data[i])
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseCandle(raw []string) (types.PriceRow, error) {
	if len(raw) < 8 {
		return types.PriceRow{}, fmt.Errorf("decode candle: %w", types.ErrInvalidFormat)
	}

	ms, err := strconv.ParseInt(raw[0], 10, 64)
	if err != nil {
		return types.PriceRow{}, fmt.Errorf("decode candle timestamp: %w", err)
	}

	fields := make([]decimal.Decimal, 7)
	for i := 1; i < 8; i++ {
		fields[i-1], err = decimal.NewFromString(raw[i])
		if err != nil {
			return types.PriceRow{}, fmt.Errorf("decode candle field %d: %w", i, err)
		}
	}

	return types.PriceRow{
		Timestamp:   time.UnixMilli(ms).UTC(),
		Open:        fields[0],
		High:        fields[1],
		Low:         fields[2],
		Close:       fields[3],
		Volume:      fields[4],
		VolumeQuote: fields[6],
	}, nil
}

// parseMicros converts a microsecond epoch string to time.Time.
func parseMicros(s string) (time.Time, error) {
	us, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(us).UTC(), nil
}
