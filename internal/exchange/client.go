package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/clock"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/config"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/ratelimit"
)

// 限流端点名称。外部每类调用对应一个令牌桶。
const (
	EndpointPlaceOrder  = "place_order"
	EndpointCancelOrder = "cancel_order"
	EndpointOrderStatus = "order_status"
	EndpointTicker      = "ticker"
	EndpointOHLCV       = "ohlcv"
	EndpointServerTime  = "server_time"
)

// Client 负责与 OKX 交互并实现重试机制。所有出站调用先经过限流器，
// 出站时间戳使用时间同步器校准后的时钟。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Okx
	limiter  *ratelimit.Limiter
	clock    *clock.Synchronizer

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 OKX 永续合约客户端。
func NewClient(cfg config.ExchangeConfig, limiter *ratelimit.Limiter, sync *clock.Synchronizer, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		return nil, errors.New("exchange: 限流器不能为空")
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": false, // 限流由 ratelimit.Limiter 统一控制
		"options": map[string]interface{}{
			"adjustForTimeDifference": false, // 时间差由 clock.Synchronizer 管理
			"defaultType":             "swap",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewOkx(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
		limiter:  limiter,
		clock:    sync,
	}, nil
}

// SetClock 注入时间同步器。同步器自身依赖 ServerTime，
// 因此在客户端构造之后再行注入，且必须在开始下单前完成。
func (c *Client) SetClock(sync *clock.Synchronizer) {
	c.clock = sync
}

// PlaceOrder 提交订单，返回交易所订单号。
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := c.limiter.Acquire(ctx, EndpointPlaceOrder); err != nil {
		return "", err
	}

	params := map[string]interface{}{}
	if c.clock != nil {
		params["timestamp"] = c.clock.Now().UnixMilli()
	}

	orderType := "limit"
	switch req.Type {
	case OrderTypeMarket:
		orderType = "market"
	case OrderTypePostOnly:
		params["postOnly"] = true
	case OrderTypeIOC:
		params["timeInForce"] = "IOC"
	case OrderTypeFOK:
		params["timeInForce"] = "FOK"
	}

	var order ccxt.Order
	err := c.callWithRetry(ctx, EndpointPlaceOrder, func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		var callErr error
		if orderType == "market" {
			order, callErr = c.exchange.CreateMarketOrder(
				req.Symbol, string(req.Side), req.Size,
				ccxt.WithCreateMarketOrderParams(params),
			)
		} else {
			order, callErr = c.exchange.CreateLimitOrder(
				req.Symbol, string(req.Side), req.Size, req.Price,
				ccxt.WithCreateLimitOrderParams(params),
			)
		}
		return callErr
	})
	if err != nil {
		return "", err
	}

	orderID := derefString(order.Id)
	if orderID == "" {
		return "", errors.New("exchange: 交易所未返回订单号")
	}
	return orderID, nil
}

// CancelOrder 撤销订单。
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	if err := c.limiter.Acquire(ctx, EndpointCancelOrder); err != nil {
		return err
	}

	return c.callWithRetry(ctx, EndpointCancelOrder, func() error {
		_, err := c.exchange.CancelOrder(orderID, ccxt.WithCancelOrderSymbol(symbol))
		return err
	})
}

// OrderStatus 查询订单状态，返回累计成交量快照。
// 交易所暂不认识该订单时返回 ErrOrderNotFound。
func (c *Client) OrderStatus(ctx context.Context, orderID, symbol string) (*OrderState, error) {
	if err := c.limiter.Acquire(ctx, EndpointOrderStatus); err != nil {
		return nil, err
	}

	var order ccxt.Order
	err := c.callWithRetry(ctx, EndpointOrderStatus, func() error {
		var callErr error
		order, callErr = c.exchange.FetchOrder(orderID, ccxt.WithFetchOrderSymbol(symbol))
		return callErr
	})
	if err != nil {
		var ccxtErr *ccxt.Error
		if errors.As(err, &ccxtErr) && ccxtErr.Type == ccxt.OrderNotFoundErrType {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	state := &OrderState{
		OrderID:  derefString(order.Id),
		Status:   convertStatus(derefString(order.Status), derefFloat(order.Filled)),
		Filled:   derefFloat(order.Filled),
		AvgPrice: derefFloat(order.Average),
	}
	if order.Fee.Cost != nil {
		state.Fee = *order.Fee.Cost
	}
	return state, nil
}

// LastPrice 返回最新成交价。
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.limiter.Acquire(ctx, EndpointTicker); err != nil {
		return 0, err
	}

	var ticker ccxt.Ticker
	err := c.callWithRetry(ctx, EndpointTicker, func() error {
		var callErr error
		ticker, callErr = c.exchange.FetchTicker(symbol)
		return callErr
	})
	if err != nil {
		return 0, err
	}

	price := derefFloat(ticker.Last)
	if price <= 0 {
		return 0, fmt.Errorf("exchange: %s 最新价无效", symbol)
	}
	return price, nil
}

// Candles 获取指定周期的K线数据。
func (c *Client) Candles(ctx context.Context, symbol, timeframe string, limit int64) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}
	if err := c.limiter.Acquire(ctx, EndpointOHLCV); err != nil {
		return nil, err
	}

	var raw []ccxt.OHLCV
	err := c.callWithRetry(ctx, fmt.Sprintf("%s_%s", EndpointOHLCV, timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.exchange.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

// ServerTime 获取交易所服务器时间。
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	if err := c.limiter.Acquire(ctx, EndpointServerTime); err != nil {
		return time.Time{}, err
	}

	var ts int64
	err := c.callWithRetry(ctx, EndpointServerTime, func() error {
		var callErr error
		ts, callErr = c.exchange.FetchTime()
		return callErr
	})
	if err != nil {
		return time.Time{}, err
	}

	return time.UnixMilli(ts).UTC(), nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if _, err := c.exchange.LoadMarkets(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("market", c.cfg.Market))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !IsRetryable(err) || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(err),
			)
			return err
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func convertStatus(raw string, filled float64) OrderStatus {
	switch raw {
	case "closed":
		return StatusFilled
	case "canceled", "cancelled", "expired":
		return StatusCancelled
	case "rejected":
		return StatusRejected
	default:
		if filled > 0 {
			return StatusPartiallyFilled
		}
		return StatusOpen
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
