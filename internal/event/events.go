// Package event defines the wire-level and internal frame types carried
// between SessionTransport, the order/position streams, and the
// reconciliation engine.
package event

import "github.com/shopspring/decimal"

// Type tags the kind of frame or internal event.
type Type uint16

const (
	EvLoginAck Type = iota + 1
	EvSubscribeAck
	EvPong
	EvOrderFrame
	EvPositionFrame
	EvCloseEvent
	EvFillEvent
	EvUnknown
)

// Frame is the minimal interface satisfied by every decoded wire payload
// and every internal event derived from one.
type Frame interface {
	GetType() Type
}

// LoginAck is the response to a login request. Accepted iff Event=="login"
// and Code=="0"; any other code is treated as a fatal credential error.
type LoginAck struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
}

func (LoginAck) GetType() Type { return EvLoginAck }

// SubscribeAck is the response to a subscribe request.
type SubscribeAck struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Msg     string `json:"msg"`
	Channel string `json:"channel"`
}

func (SubscribeAck) GetType() Type { return EvSubscribeAck }

// PongFrame marks receipt of either the literal "pong" text or the JSON
// {"event":"pong"} form.
type PongFrame struct{}

func (PongFrame) GetType() Type { return EvPong }

// OrderFrame is one element of an "orders" channel data[] array.
type OrderFrame struct {
	OrdId      string `json:"ordId"`
	ClOrdId    string `json:"clOrdId"`
	PosId      string `json:"posId"`
	InstId     string `json:"instId"`
	Side       string `json:"side"`
	PosSide    string `json:"posSide"`
	OrdType    string `json:"ordType"`
	State      string `json:"state"`
	Px         string `json:"px"`
	Sz         string `json:"sz"`
	AccFillSz  string `json:"accFillSz"`
	FillPx     string `json:"fillPx"`
	Lever      string `json:"lever"`
	TdMode     string `json:"tdMode"`
	Tag        string `json:"tag"`
	FillTime   string `json:"fillTime"`
	UTime      string `json:"uTime"`
	CTime      string `json:"cTime"`
}

func (OrderFrame) GetType() Type { return EvOrderFrame }

// PositionFrame is one element of a "positions" channel data[] array. The
// enclosing message additionally carries EventType, attached here for
// convenience since PositionStream needs it alongside every element.
type PositionFrame struct {
	PosId     string `json:"posId"`
	InstId    string `json:"instId"`
	PosSide   string `json:"posSide"`
	Pos       string `json:"pos"`
	AvailPos  string `json:"availPos"`
	AvgPx     string `json:"avgPx"`
	UTime     string `json:"uTime"`
	MarkPx    string `json:"markPx"`
	Lever     string `json:"lever"`
	MgnMode   string `json:"mgnMode"`
	EventType string `json:"-"`
}

func (PositionFrame) GetType() Type { return EvPositionFrame }

// CloseEvent is PositionStream's output: a detected full or partial
// external position decrease, queued for ReconciliationEngine.onPositionChange.
type CloseEvent struct {
	Pid         string
	Symbol      string
	PosSide     string
	CloseAmount decimal.Decimal
	IsFullClose bool
	UTimeMs     int64
	MarkPx      decimal.Decimal
}

func (*CloseEvent) GetType() Type { return EvCloseEvent }

// Reset clears a CloseEvent for pool reuse.
func (c *CloseEvent) Reset() {
	*c = CloseEvent{}
}

// FillEvent is OrderStream's output: a fill or partial fill, queued for
// ReconciliationEngine.onOrderFill.
type FillEvent struct {
	Oid    string
	Cloid  string
	FillSz decimal.Decimal
	FillPx decimal.Decimal
}

func (*FillEvent) GetType() Type { return EvFillEvent }

// Reset clears a FillEvent for pool reuse.
func (f *FillEvent) Reset() {
	*f = FillEvent{}
}
