// exchange/client.go
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"scalp_guard_go/logs"
	"scalp_guard_go/utils"

	"github.com/google/uuid"
)

// Ensure APIClient struct implements Client interface
var _ Client = (*APIClient)(nil)

// APIClient talks to the Binance USD-M futures REST API.
type APIClient struct {
	ApiKey     string
	ApiSecret  string
	BaseURL    string
	Http       *http.Client
	tag        string
	tickSize   float64
	timeOffset int64 // Difference between server time and local time
	recvWindow int64 // Milliseconds
	mu         sync.Mutex
}

// Binance API error response struct
type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// apiError is a non-2xx answer from the API.
type apiError struct {
	Status int
	Code   int
	Msg    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error: %s (code: %d, HTTP %d)", e.Msg, e.Code, e.Status)
}

// PositionRisk is used to parse position risk API response
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	UnrealizedProfit string `json:"unRealizedProfit"`
	PositionSide     string `json:"positionSide"`
	EntryPrice       string `json:"entryPrice"`
	UpdateTime       int64  `json:"updateTime"`
}

// openOrder is the subset of /fapi/v1/openOrders we read.
type openOrder struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	ClientOrderID string `json:"clientOrderId"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	PositionSide  string `json:"positionSide"`
	StopPrice     string `json:"stopPrice"`
	ClosePosition bool   `json:"closePosition"`
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	AvgPrice      string `json:"avgPrice"`
	UpdateTime    int64  `json:"updateTime"`
}

// BinanceTimeResponse is used to parse server time API response
type BinanceTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// NewAPIClient creates a new API client instance. tag labels every order it
// places, tickSize is used to format stop and target prices.
func NewAPIClient(apiKey, apiSecret, baseURL, tag string, tickSize float64, timeoutSeconds, recvWindowSeconds int) *APIClient {
	return &APIClient{
		ApiKey:     apiKey,
		ApiSecret:  apiSecret,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Http:       &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		tag:        tag,
		tickSize:   tickSize,
		recvWindow: int64(recvWindowSeconds * 1000),
	}
}

// SyncTime synchronizes time with the Binance server and stores the offset.
func (c *APIClient) SyncTime(ctx context.Context) error {
	var timeResp BinanceTimeResponse
	if err := c.sendPublic(ctx, "/fapi/v1/time", url.Values{}, &timeResp); err != nil {
		return fmt.Errorf("unable to get Binance server time: %w", err)
	}

	c.mu.Lock()
	c.timeOffset = timeResp.ServerTime - time.Now().UnixMilli()
	offset := c.timeOffset
	c.mu.Unlock()

	logs.Infof("[API Client] Time synchronization completed, local time vs server time difference: %d ms", offset)
	return nil
}

// sendPublic performs an unsigned GET.
func (c *APIClient) sendPublic(ctx context.Context, endpoint string, params url.Values, target interface{}) error {
	fullURL := c.BaseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, target)
}

// sendRequest signs params, sends them in the query string and decodes the answer.
func (c *APIClient) sendRequest(ctx context.Context, method, endpoint string, params url.Values, target interface{}) error {
	// One request at a time through this client keeps timeOffset consistent.
	c.mu.Lock()
	defer c.mu.Unlock()

	timestamp := time.Now().UnixMilli() + c.timeOffset
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))

	queryString := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.ApiSecret))
	_, _ = mac.Write([]byte(queryString))
	signature := hex.EncodeToString(mac.Sum(nil))

	fullURL := fmt.Sprintf("%s%s?%s&signature=%s", c.BaseURL, endpoint, queryString, signature)

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if method == http.MethodPost || method == http.MethodDelete {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("X-MBX-APIKEY", c.ApiKey)

	return c.do(req, target)
}

func (c *APIClient) do(req *http.Request, target interface{}) error {
	resp, err := c.Http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode, Msg: string(body)}
		var errResp binanceError
		if json.Unmarshal(body, &errResp) == nil && errResp.Msg != "" {
			apiErr.Code = errResp.Code
			apiErr.Msg = errResp.Msg
		}
		return apiErr
	}

	if target != nil {
		if err := json.Unmarshal(body, target); err != nil {
			return fmt.Errorf("failed to decode JSON: %w, body: %s", err, string(body))
		}
	}
	return nil
}

// asRejection turns a 4xx answer into a *RejectedError and leaves everything else wrapped.
func asRejection(op string, err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		return &RejectedError{Op: op, Reason: fmt.Sprintf("%s (code %d)", apiErr.Msg, apiErr.Code)}
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

// FetchBars returns the last count klines, oldest first. The last bar is the one still forming.
func (c *APIClient) FetchBars(ctx context.Context, symbol, timeframe string, count int) ([]Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(count))

	var raw [][]interface{}
	if err := c.sendPublic(ctx, "/fapi/v1/klines", params, &raw); err != nil {
		return nil, fmt.Errorf("%w: klines %s %s: %v", ErrDataUnavailable, symbol, timeframe, err)
	}
	return parseKlines(raw)
}

func parseKlines(raw [][]interface{}) ([]Bar, error) {
	bars := make([]Bar, 0, len(raw))
	for i, k := range raw {
		if len(k) < 5 {
			return nil, fmt.Errorf("%w: kline %d has %d fields", ErrDataUnavailable, i, len(k))
		}
		openTime, ok := k[0].(float64)
		if !ok {
			return nil, fmt.Errorf("%w: kline %d has a non-numeric open time", ErrDataUnavailable, i)
		}
		var ohlc [4]float64
		for j := 0; j < 4; j++ {
			s, ok := k[j+1].(string)
			if !ok {
				return nil, fmt.Errorf("%w: kline %d field %d is not a string", ErrDataUnavailable, i, j+1)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: kline %d field %d: %v", ErrDataUnavailable, i, j+1, err)
			}
			ohlc[j] = v
		}
		bars = append(bars, Bar{
			Time:  time.UnixMilli(int64(openTime)),
			Open:  ohlc[0],
			High:  ohlc[1],
			Low:   ohlc[2],
			Close: ohlc[3],
		})
	}
	return bars, nil
}

// FetchTick returns the best bid and ask.
func (c *APIClient) FetchTick(ctx context.Context, symbol string) (Tick, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var data struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
		Time     int64  `json:"time"`
	}
	if err := c.sendPublic(ctx, "/fapi/v1/ticker/bookTicker", params, &data); err != nil {
		return Tick{}, fmt.Errorf("%w: book ticker %s: %v", ErrDataUnavailable, symbol, err)
	}
	bid, err1 := strconv.ParseFloat(data.BidPrice, 64)
	ask, err2 := strconv.ParseFloat(data.AskPrice, 64)
	if err1 != nil || err2 != nil || bid <= 0 || ask <= 0 {
		return Tick{}, fmt.Errorf("%w: book ticker %s returned bid=%q ask=%q", ErrDataUnavailable, symbol, data.BidPrice, data.AskPrice)
	}
	return Tick{Bid: bid, Ask: ask, Time: time.UnixMilli(data.Time)}, nil
}

// positionID encodes what Close/Modify need to address a Binance position.
func positionID(symbol, positionSide string, dir Direction) string {
	return fmt.Sprintf("%s/%s/%s", symbol, positionSide, dir)
}

func parsePositionID(id string) (symbol, positionSide string, dir Direction, err error) {
	parts := strings.Split(id, "/")
	if len(parts) != 3 || (parts[2] != string(Long) && parts[2] != string(Short)) {
		return "", "", "", fmt.Errorf("malformed position id %q", id)
	}
	return parts[0], parts[1], Direction(parts[2]), nil
}

func closingSide(dir Direction) string {
	if dir == Long {
		return "SELL"
	}
	return "BUY"
}

// FetchOpenPositions returns every non-zero position on symbol. Stop, target,
// open time and ownership tag are recovered from the tagged protective orders
// of the most recent entry; leftovers of earlier positions are ignored.
func (c *APIClient) FetchOpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	risks, err := c.positionRisk(ctx, symbol)
	if err != nil {
		return nil, err
	}

	orders, err := c.openOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var positions []Position
	for _, r := range risks {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		pnl, _ := strconv.ParseFloat(r.UnrealizedProfit, 64)

		dir := Long
		if amt < 0 || r.PositionSide == string(Short) {
			dir = Short
		}
		if amt < 0 {
			amt = -amt
		}

		pos := Position{
			ID:               positionID(r.Symbol, r.PositionSide, dir),
			Symbol:           r.Symbol,
			Direction:        dir,
			EntryPrice:       entry,
			Volume:           amt,
			UnrealizedProfit: pnl,
			OpenTime:         time.UnixMilli(r.UpdateTime),
		}

		protective := protectiveOrders(orders, r.PositionSide, dir)
		var latest time.Time
		for _, o := range protective {
			if parsed, _ := parseClientOrderID(o.ClientOrderID); parsed.OpenTime.After(latest) {
				latest = parsed.OpenTime
			}
		}
		for _, o := range protective {
			parsed, _ := parseClientOrderID(o.ClientOrderID)
			if !parsed.OpenTime.Equal(latest) {
				continue
			}
			stop, _ := strconv.ParseFloat(o.StopPrice, 64)
			pos.Tag = parsed.Tag
			pos.OpenTime = parsed.OpenTime
			switch parsed.Kind {
			case kindStopLoss:
				if pos.StopLoss == 0 || (dir == Long && stop > pos.StopLoss) || (dir == Short && stop < pos.StopLoss) {
					pos.StopLoss = stop
				}
			case kindTakeProfit:
				pos.TakeProfit = stop
			}
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

func (c *APIClient) positionRisk(ctx context.Context, symbol string) ([]PositionRisk, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var risks []PositionRisk
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, &risks); err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}
	return risks, nil
}

// positionVolume returns the absolute size of the position addressed by
// positionSide and dir, 0 when it is flat.
func (c *APIClient) positionVolume(ctx context.Context, symbol, positionSide string, dir Direction) (float64, error) {
	risks, err := c.positionRisk(ctx, symbol)
	if err != nil {
		return 0, err
	}
	for _, r := range risks {
		if r.PositionSide != positionSide {
			continue
		}
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if (dir == Long && amt > 0) || (dir == Short && amt < 0) {
			return math.Abs(amt), nil
		}
	}
	return 0, nil
}

func (c *APIClient) openOrders(ctx context.Context, symbol string) ([]openOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var orders []openOrder
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", params, &orders); err != nil {
		return nil, fmt.Errorf("failed to fetch open orders: %w", err)
	}
	return orders, nil
}

// protectiveOrders keeps the tagged stop/target orders that would close a position of dir.
func protectiveOrders(orders []openOrder, positionSide string, dir Direction) []openOrder {
	var out []openOrder
	for _, o := range orders {
		parsed, ok := parseClientOrderID(o.ClientOrderID)
		if !ok || (parsed.Kind != kindStopLoss && parsed.Kind != kindTakeProfit) {
			continue
		}
		if o.PositionSide != positionSide || o.Side != closingSide(dir) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// SubmitOrder opens a market position and attaches its stop and target.
// When a protective order fails after the fill, the position is flattened
// again and the attempt is reported as a rejection. Only if flattening fails
// too is the open position returned together with the error.
func (c *APIClient) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	tag := req.Tag
	if tag == "" {
		tag = c.tag
	}
	openTime := time.Now()
	side := "BUY"
	if req.Direction == Short {
		side = "SELL"
	}

	c.cancelLeftovers(ctx, req.Symbol, "BOTH", req.Direction)

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", utils.FormatQuantity(req.Volume))
	params.Set("newOrderRespType", "RESULT")
	params.Set("newClientOrderId", clientOrderID(tag, kindEntry, openTime, shortSuffix()))

	var resp orderResponse
	if err := c.sendRequest(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return nil, asRejection("entry order", err)
	}
	fill, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	if fill == 0 {
		fill = req.Price
	}

	result := &OrderResult{
		OrderID:    strconv.FormatInt(resp.OrderID, 10),
		PositionID: positionID(req.Symbol, "BOTH", req.Direction),
		FillPrice:  fill,
		OpenTime:   openTime,
	}

	var placed []int64
	for _, leg := range []struct {
		kind  string
		price float64
	}{{kindStopLoss, req.StopLoss}, {kindTakeProfit, req.TakeProfit}} {
		if leg.price <= 0 {
			continue
		}
		orderID, err := c.placeProtective(ctx, req.Symbol, "BOTH", req.Direction, leg.kind, leg.price, req.Volume, tag, openTime)
		if err != nil {
			return c.unwindEntry(ctx, req, tag, openTime, placed, result, err)
		}
		placed = append(placed, orderID)
	}
	return result, nil
}

// unwindEntry flattens a fill whose protection could not be attached.
func (c *APIClient) unwindEntry(ctx context.Context, req OrderRequest, tag string, openTime time.Time, placed []int64, result *OrderResult, cause error) (*OrderResult, error) {
	logs.Warnf("[API Client] Protection for %s failed after fill, flattening: %v", result.PositionID, cause)
	if err := c.marketClose(ctx, req.Symbol, "BOTH", req.Direction, req.Volume, tag, openTime); err != nil {
		return result, fmt.Errorf("protective order failed (%v) and flattening failed: %w", cause, err)
	}
	for _, id := range placed {
		if err := c.cancelOrder(ctx, req.Symbol, id); err != nil {
			logs.Warnf("[API Client] Failed to cancel protective order %d of unwound entry: %v", id, err)
		}
	}
	return nil, &RejectedError{Op: "entry", Reason: fmt.Sprintf("%v; position flattened", cause)}
}

// cancelLeftovers removes tagged protective orders that outlived their
// position, so they cannot act on the next one.
func (c *APIClient) cancelLeftovers(ctx context.Context, symbol, positionSide string, dir Direction) {
	orders, err := c.openOrders(ctx, symbol)
	if err != nil {
		logs.Warnf("[API Client] Could not list leftover protective orders: %v", err)
		return
	}
	for _, o := range protectiveOrders(orders, positionSide, dir) {
		if err := c.cancelOrder(ctx, symbol, o.OrderID); err != nil {
			logs.Warnf("[API Client] Failed to cancel leftover protective order %s: %v", o.ClientOrderID, err)
		}
	}
}

// placeProtective places a reduce-only stop or target for volume. Several of
// them may coexist, which lets a replacement go in before the old one is cancelled.
func (c *APIClient) placeProtective(ctx context.Context, symbol, positionSide string, dir Direction, kind string, price, volume float64, tag string, openTime time.Time) (int64, error) {
	orderType := "STOP_MARKET"
	if kind == kindTakeProfit {
		orderType = "TAKE_PROFIT_MARKET"
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", closingSide(dir))
	if positionSide == "BOTH" {
		params.Set("reduceOnly", "true")
	} else {
		params.Set("positionSide", positionSide)
	}
	params.Set("type", orderType)
	params.Set("stopPrice", utils.FormatPrice(price, c.tickSize))
	params.Set("quantity", utils.FormatQuantity(volume))
	params.Set("workingType", "MARK_PRICE")
	params.Set("newClientOrderId", clientOrderID(tag, kind, openTime, shortSuffix()))

	var resp orderResponse
	if err := c.sendRequest(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return 0, asRejection(strings.ToLower(orderType)+" order", err)
	}
	return resp.OrderID, nil
}

// marketClose sends a reduce-only market order against the position.
func (c *APIClient) marketClose(ctx context.Context, symbol, positionSide string, dir Direction, volume float64, tag string, at time.Time) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", closingSide(dir))
	params.Set("type", "MARKET")
	params.Set("quantity", utils.FormatQuantity(volume))
	if positionSide == "BOTH" {
		params.Set("reduceOnly", "true")
	} else {
		params.Set("positionSide", positionSide)
	}
	params.Set("newClientOrderId", clientOrderID(tag, kindClose, at, shortSuffix()))

	if err := c.sendRequest(ctx, http.MethodPost, "/fapi/v1/order", params, nil); err != nil {
		return asRejection("close order", err)
	}
	return nil
}

func (c *APIClient) cancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	return c.sendRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, nil)
}

// ModifyProtection replaces the stop and/or target. The new order is placed
// before the old one is cancelled so the position is never left unprotected.
// takeProfit == 0 removes the target.
func (c *APIClient) ModifyProtection(ctx context.Context, id string, stopLoss, takeProfit float64) error {
	symbol, positionSide, dir, err := parsePositionID(id)
	if err != nil {
		return &RejectedError{Op: "modify", Reason: err.Error()}
	}
	orders, err := c.openOrders(ctx, symbol)
	if err != nil {
		return err
	}
	volume, err := c.positionVolume(ctx, symbol, positionSide, dir)
	if err != nil {
		return err
	}
	if volume == 0 {
		return &RejectedError{Op: "modify", Reason: fmt.Sprintf("position %s is flat", id)}
	}
	current := protectiveOrders(orders, positionSide, dir)

	tag, openTime := c.tag, time.Time{}
	var oldStops, oldTargets []openOrder
	for _, o := range current {
		parsed, _ := parseClientOrderID(o.ClientOrderID)
		if parsed.OpenTime.After(openTime) {
			tag, openTime = parsed.Tag, parsed.OpenTime
		}
		if parsed.Kind == kindStopLoss {
			oldStops = append(oldStops, o)
		} else {
			oldTargets = append(oldTargets, o)
		}
	}
	if openTime.IsZero() {
		openTime = time.Now()
	}

	var stale []openOrder
	if stopLoss > 0 {
		if _, err := c.placeProtective(ctx, symbol, positionSide, dir, kindStopLoss, stopLoss, volume, tag, openTime); err != nil {
			return err
		}
		stale = append(stale, oldStops...)
	}
	if takeProfit > 0 {
		if _, err := c.placeProtective(ctx, symbol, positionSide, dir, kindTakeProfit, takeProfit, volume, tag, openTime); err != nil {
			return err
		}
	}
	stale = append(stale, oldTargets...)

	var cancelErrs []error
	for _, o := range stale {
		if err := c.cancelOrder(ctx, symbol, o.OrderID); err != nil {
			cancelErrs = append(cancelErrs, fmt.Errorf("cancel %s: %w", o.ClientOrderID, err))
		}
	}
	if len(cancelErrs) > 0 {
		return fmt.Errorf("protection replaced but stale orders remain: %w", errors.Join(cancelErrs...))
	}
	return nil
}

// ClosePosition closes volume at market and removes the position's protective orders.
// price is informational; Binance fills market orders at the book.
func (c *APIClient) ClosePosition(ctx context.Context, id string, volume, price float64) error {
	symbol, positionSide, dir, err := parsePositionID(id)
	if err != nil {
		return &RejectedError{Op: "close", Reason: err.Error()}
	}

	if err := c.marketClose(ctx, symbol, positionSide, dir, volume, c.tag, time.Now()); err != nil {
		return err
	}
	logs.Debugf("[API Client] Close order for %s sent near %.5f", id, price)

	c.cancelLeftovers(ctx, symbol, positionSide, dir)
	return nil
}

func shortSuffix() string {
	return uuid.NewString()[:8]
}
