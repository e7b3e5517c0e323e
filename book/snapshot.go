package book

import "time"

// Side 订单方向。
type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "BID"
	}
	return "ASK"
}

// Opposite 返回对侧。
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// Order 盘口挂单。Owner 为链上挂单账户标识。
type Order struct {
	Owner string
	Price float64
	Size  float64
}

// Notional 名义价值。
func (o Order) Notional() float64 {
	return o.Price * o.Size
}

// Snapshot 单次轮询得到的完整盘口，创建后不可变。
// Bids 按价格从高到低、Asks 从低到高排列。
type Snapshot struct {
	Instrument string
	Bids       []Order
	Asks       []Order
	Ts         time.Time
}

// SideOrders 返回指定方向的挂单（按优先级排序）。
func (s *Snapshot) SideOrders(side Side) []Order {
	if side == SideBid {
		return s.Bids
	}
	return s.Asks
}

// BestBid 返回最优买单；空盘口时 ok 为 false。
func (s *Snapshot) BestBid() (Order, bool) {
	if len(s.Bids) == 0 {
		return Order{}, false
	}
	return s.Bids[0], true
}

// BestAsk 返回最优卖单；空盘口时 ok 为 false。
func (s *Snapshot) BestAsk() (Order, bool) {
	if len(s.Asks) == 0 {
		return Order{}, false
	}
	return s.Asks[0], true
}
