package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"candlebot/internal/model"
)

const (
	defaultRESTURL = "https://api.coinbase.com"
	defaultWSURL   = "wss://advanced-trade-ws.coinbase.com"

	// Historical fetch windows per granularity, sized so the venue returns
	// roughly 300 candles per request.
	candleWindowFactor = 300
)

// quote currencies we skip when listing products; pairs quoted in these are
// not traded by this bot.
var skippedQuotes = map[string]bool{
	"EUR": true, "GBP": true, "BTC": true, "ETH": true, "USDT": true, "DAI": true,
}

// Config holds the REST client settings.
type Config struct {
	APIKey    string
	APISecret string
	RESTURL   string        // default: https://api.coinbase.com
	Timeout   time.Duration // default: 7s
}

// Coinbase is an authenticated Advanced Trade REST client. All requests are
// signed with an HMAC-SHA256 of timestamp+method+path(+body).
type Coinbase struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client
}

// NewCoinbase creates a REST client.
func NewCoinbase(cfg Config) *Coinbase {
	base := cfg.RESTURL
	if base == "" {
		base = defaultRESTURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 7 * time.Second
	}
	return &Coinbase{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		baseURL:   base,
		client:    &http.Client{Timeout: timeout},
	}
}

// sign builds the CB-ACCESS-SIGN header value.
func (c *Coinbase) sign(method, endpoint, timestamp string, body []byte) string {
	msg := timestamp + method + endpoint
	if method == http.MethodPost {
		msg += string(body)
	}
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// request performs a signed request and decodes the JSON response into out.
func (c *Coinbase) request(ctx context.Context, method, endpoint string, params url.Values, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("coinbase: marshal %s %s: %w", method, endpoint, err)
		}
	}

	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("coinbase: create request %s %s: %w", method, endpoint, err)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("CB-ACCESS-KEY", c.apiKey)
	req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
	req.Header.Set("CB-ACCESS-SIGN", c.sign(method, endpoint, ts, payload))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("coinbase: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("coinbase: read %s %s: %w", method, endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coinbase: %s %s: status %d: %s", method, endpoint, resp.StatusCode, truncate(data, 200))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("coinbase: decode %s %s: %w", method, endpoint, err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// decimalPlaces converts an increment string like "0.01" to its number of
// decimal places. An increment without a fraction (e.g. "1") yields 0.
func decimalPlaces(increment string) int32 {
	i := strings.IndexByte(increment, '.')
	if i < 0 {
		return 0
	}
	return int32(len(increment) - i - 1)
}

// Assets fetches the venue product list, keyed by symbol. Pairs quoted in
// currencies the bot does not trade are skipped.
func (c *Coinbase) Assets(ctx context.Context) (map[string]model.Asset, error) {
	var raw struct {
		Products []struct {
			ProductID       string `json:"product_id"`
			BaseCurrencyID  string `json:"base_currency_id"`
			QuoteCurrencyID string `json:"quote_currency_id"`
			QuoteIncrement  string `json:"quote_increment"`
			BaseIncrement   string `json:"base_increment"`
		} `json:"products"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v3/brokerage/products", nil, nil, &raw); err != nil {
		return nil, err
	}

	assets := make(map[string]model.Asset, len(raw.Products))
	for _, p := range raw.Products {
		if skippedQuotes[p.QuoteCurrencyID] {
			continue
		}
		assets[p.ProductID] = model.Asset{
			Symbol:         p.ProductID,
			BaseCurrency:   p.BaseCurrencyID,
			QuoteCurrency:  p.QuoteCurrencyID,
			QuoteIncrement: decimalPlaces(p.QuoteIncrement),
			BaseIncrement:  decimalPlaces(p.BaseIncrement),
		}
	}
	return assets, nil
}

// HistoricalCandles fetches recent candles for the asset at the given
// granularity, returned in chronological order ready for series seeding.
func (c *Coinbase) HistoricalCandles(ctx context.Context, asset model.Asset, tf model.Timeframe) ([]model.Candle, error) {
	iv := tf.Seconds()
	if iv <= 0 {
		return nil, fmt.Errorf("coinbase: unknown timeframe %q", tf)
	}

	end := time.Now().Unix()
	params := url.Values{}
	params.Set("start", strconv.FormatInt(end-iv*candleWindowFactor, 10))
	params.Set("end", strconv.FormatInt(end, 10))
	params.Set("granularity", string(tf))

	var raw struct {
		Candles []struct {
			Start  string `json:"start"`
			Open   string `json:"open"`
			High   string `json:"high"`
			Low    string `json:"low"`
			Close  string `json:"close"`
			Volume string `json:"volume"`
		} `json:"candles"`
	}
	endpoint := "/api/v3/brokerage/products/" + asset.Symbol + "/candles"
	if err := c.request(ctx, http.MethodGet, endpoint, params, nil, &raw); err != nil {
		return nil, err
	}

	candles := make([]model.Candle, 0, len(raw.Candles))
	for _, rc := range raw.Candles {
		ts, err := strconv.ParseInt(rc.Start, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("coinbase: candle start %q: %w", rc.Start, err)
		}
		cd := model.Candle{Timestamp: ts}
		for _, f := range []struct {
			raw string
			dst *float64
		}{
			{rc.Open, &cd.Open}, {rc.High, &cd.High}, {rc.Low, &cd.Low},
			{rc.Close, &cd.Close}, {rc.Volume, &cd.Volume},
		} {
			v, err := strconv.ParseFloat(f.raw, 64)
			if err != nil {
				return nil, fmt.Errorf("coinbase: candle field %q: %w", f.raw, err)
			}
			*f.dst = v
		}
		candles = append(candles, cd)
	}

	// The venue returns newest first.
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })
	return candles, nil
}

// BidAsk fetches the current best bid/ask for an asset.
func (c *Coinbase) BidAsk(ctx context.Context, asset model.Asset) (model.Quote, error) {
	var raw struct {
		BestBid string `json:"best_bid"`
		BestAsk string `json:"best_ask"`
	}
	endpoint := "/api/v3/brokerage/products/" + asset.Symbol + "/ticker"
	if err := c.request(ctx, http.MethodGet, endpoint, nil, nil, &raw); err != nil {
		return model.Quote{}, err
	}
	bid, err := strconv.ParseFloat(raw.BestBid, 64)
	if err != nil {
		return model.Quote{}, fmt.Errorf("coinbase: best_bid %q: %w", raw.BestBid, err)
	}
	ask, err := strconv.ParseFloat(raw.BestAsk, 64)
	if err != nil {
		return model.Quote{}, fmt.Errorf("coinbase: best_ask %q: %w", raw.BestAsk, err)
	}
	return model.Quote{Bid: bid, Ask: ask}, nil
}

// Balance returns the available balance of one currency.
func (c *Coinbase) Balance(ctx context.Context, currency string) (decimal.Decimal, error) {
	var raw struct {
		Accounts []struct {
			AvailableBalance struct {
				Value    string `json:"value"`
				Currency string `json:"currency"`
			} `json:"available_balance"`
			UUID string `json:"uuid"`
		} `json:"accounts"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v3/brokerage/accounts/", nil, nil, &raw); err != nil {
		return decimal.Zero, err
	}
	for _, acct := range raw.Accounts {
		if acct.AvailableBalance.Currency == currency {
			v, err := decimal.NewFromString(acct.AvailableBalance.Value)
			if err != nil {
				return decimal.Zero, fmt.Errorf("coinbase: balance value %q: %w", acct.AvailableBalance.Value, err)
			}
			return v, nil
		}
	}
	return decimal.Zero, fmt.Errorf("coinbase: no %s account", currency)
}

// PlaceOrder submits an order and returns its status. Market BUY quantity is
// quote-denominated (quote_size); market SELL quantity is base-denominated
// (base_size). The venue only reports success/failure on submission, so a
// follow-up status fetch resolves the fill state.
func (c *Coinbase) PlaceOrder(ctx context.Context, asset model.Asset, side model.OrderSide, typ model.OrderType,
	quantity decimal.Decimal, limit decimal.Decimal) (*model.OrderStatus, error) {

	var orderCfg map[string]any
	switch typ {
	case model.OrderMarket:
		size := map[string]any{"base_size": quantity.String()}
		if side == model.SideBuy {
			size = map[string]any{"quote_size": quantity.String()}
		}
		orderCfg = map[string]any{"market_market_ioc": size}
	case model.OrderLimit:
		orderCfg = map[string]any{"limit_limit_gtc": map[string]any{
			"base_size":   quantity.String(),
			"limit_price": limit.String(),
			"post_only":   false,
		}}
	default:
		return nil, fmt.Errorf("coinbase: unsupported order type %q", typ)
	}

	body := map[string]any{
		"client_order_id":     uuid.NewString(),
		"product_id":          asset.Symbol,
		"side":                string(side),
		"order_configuration": orderCfg,
	}

	var raw struct {
		Success       bool   `json:"success"`
		OrderID       string `json:"order_id"`
		ErrorResponse struct {
			Message string `json:"message"`
		} `json:"error_response"`
	}
	if err := c.request(ctx, http.MethodPost, "/api/v3/brokerage/orders", nil, body, &raw); err != nil {
		return nil, err
	}
	if !raw.Success {
		return nil, fmt.Errorf("coinbase: %s order on %s rejected: %s", side, asset.Symbol, raw.ErrorResponse.Message)
	}

	// Brief settle delay before the first status read, matching venue
	// eventual consistency on fresh orders.
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	status, err := c.OrderStatus(ctx, raw.OrderID)
	if err != nil {
		slog.Warn("order placed but status fetch failed", "order_id", raw.OrderID, "err", err)
		return &model.OrderStatus{OrderID: raw.OrderID}, nil
	}
	return status, nil
}

// OrderStatus fetches the venue's view of an order.
func (c *Coinbase) OrderStatus(ctx context.Context, orderID string) (*model.OrderStatus, error) {
	var raw struct {
		Order struct {
			OrderID            string `json:"order_id"`
			Status             string `json:"status"`
			AverageFilledPrice string `json:"average_filled_price"`
		} `json:"order"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v3/brokerage/orders/historical/"+orderID, nil, nil, &raw); err != nil {
		return nil, err
	}
	avg, _ := strconv.ParseFloat(raw.Order.AverageFilledPrice, 64)
	return &model.OrderStatus{
		OrderID:      raw.Order.OrderID,
		Status:       raw.Order.Status,
		AvgFillPrice: avg,
	}, nil
}

// CancelOrder cancels one order by id and returns its resulting status.
func (c *Coinbase) CancelOrder(ctx context.Context, orderID string) (*model.OrderStatus, error) {
	body := map[string]any{"order_ids": []string{orderID}}
	var raw struct {
		Results []struct {
			Success bool   `json:"success"`
			OrderID string `json:"order_id"`
		} `json:"results"`
	}
	if err := c.request(ctx, http.MethodPost, "/api/v3/brokerage/orders/batch_cancel", nil, body, &raw); err != nil {
		return nil, err
	}
	if len(raw.Results) == 0 || !raw.Results[0].Success {
		return nil, fmt.Errorf("coinbase: cancel of %s rejected", orderID)
	}
	return c.OrderStatus(ctx, raw.Results[0].OrderID)
}
