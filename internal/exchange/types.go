package exchange

import "time"

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType 表示委托类型。
type OrderType string

const (
	OrderTypeLimit    OrderType = "limit"
	OrderTypeMarket   OrderType = "market"
	OrderTypePostOnly OrderType = "post_only"
	OrderTypeIOC      OrderType = "ioc"
	OrderTypeFOK      OrderType = "fok"
)

// OrderStatus 表示交易所侧的订单状态。
type OrderStatus string

const (
	StatusOpen            OrderStatus = "open"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
)

// Terminal 判断订单状态是否为终态。
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// OrderRequest 抽象一笔委托。
type OrderRequest struct {
	Symbol string
	Side   OrderSide
	Size   float64
	Price  float64 // 市价单可为 0
	Type   OrderType
}

// OrderState 为一次订单状态查询的结果。Filled 是累计成交量快照。
type OrderState struct {
	OrderID  string
	Status   OrderStatus
	Filled   float64
	AvgPrice float64
	Fee      float64
}

// Candle 表示一根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
