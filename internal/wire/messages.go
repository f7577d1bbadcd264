// Package wire implements the binary request/report framing the host
// speaks over TCP: fixed big-endian headers sized by explicit length
// constants, variable trailing fields length-prefixed in the header. One
// request type exists per pool operation, plus a shared report frame for
// results, events, and rejections.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"

	"critbook/internal/book"
	"critbook/internal/engine"
)

var (
	ErrInvalidMessageType = errors.New("wire: invalid message type")
	ErrMessageTooShort    = errors.New("wire: message too short")
	ErrInvalidUUID        = errors.New("wire: invalid account uuid")
)

// MessageType tags a request frame's operation.
type MessageType uint16

const (
	Heartbeat MessageType = iota
	PlaceLimit
	PlaceMarket
	SwapExactBaseForQuote
	SwapExactQuoteForBase
	CancelOrder
	CancelAll
)

// Message format constants. Every request frame starts with a 2-byte
// MessageType then a 16-byte account uuid, followed by an operation-
// specific fixed body; PlaceLimit/PlaceMarket/Swap bodies have no trailing
// variable-length field so their header length is their whole length.
const (
	baseHeaderLen      = 2 + 16
	placeLimitBodyLen  = 1 + 8 + 8 + 8 + 8 + 1 + 1 // side, clientID, price, qty, expireMs, restriction, selfMatchPolicy
	placeMarketBodyLen = 1 + 8 + 1             // side, qty, selfMatchPolicy
	swapBodyLen        = 8 + 1                 // qty (base or quote, depending on message type), selfMatchPolicy
	cancelOrderBodyLen = 8                     // order id
	cancelAllBodyLen   = 0
)

// PlaceLimitMessage requests engine.Pool.PlaceLimitOrder.
type PlaceLimitMessage struct {
	Account           uuid.UUID
	Side              book.Side
	ClientID          uint64
	Price             uint64
	Quantity          uint64
	ExpireTimestampMs uint64
	Restriction       engine.Restriction
	SelfMatchPolicy   engine.SelfMatchPolicy
}

// PlaceMarketMessage requests engine.Pool.PlaceMarketOrder.
type PlaceMarketMessage struct {
	Account         uuid.UUID
	Side            book.Side
	Quantity        uint64
	SelfMatchPolicy engine.SelfMatchPolicy
}

// SwapMessage requests SwapExactBaseForQuote or SwapExactQuoteForBase,
// distinguished by the enclosing frame's MessageType.
type SwapMessage struct {
	Account         uuid.UUID
	Quantity        uint64
	SelfMatchPolicy engine.SelfMatchPolicy
}

// CancelOrderMessage requests engine.Pool.CancelOrder.
type CancelOrderMessage struct {
	Account uuid.UUID
	OrderID uint64
}

// CancelAllMessage requests engine.Pool.CancelAll.
type CancelAllMessage struct {
	Account uuid.UUID
}

func requestFrame(msgType MessageType, account uuid.UUID, bodyLen int) []byte {
	buf := make([]byte, baseHeaderLen+bodyLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(msgType))
	copy(buf[2:18], account[:])
	return buf
}

// Serialize packs m into its wire frame.
func (m PlaceLimitMessage) Serialize() []byte {
	buf := requestFrame(PlaceLimit, m.Account, placeLimitBodyLen)
	body := buf[baseHeaderLen:]
	body[0] = byte(m.Side)
	binary.BigEndian.PutUint64(body[1:9], m.ClientID)
	binary.BigEndian.PutUint64(body[9:17], m.Price)
	binary.BigEndian.PutUint64(body[17:25], m.Quantity)
	binary.BigEndian.PutUint64(body[25:33], m.ExpireTimestampMs)
	body[33] = byte(m.Restriction)
	body[34] = byte(m.SelfMatchPolicy)
	return buf
}

// Serialize packs m into its wire frame.
func (m PlaceMarketMessage) Serialize() []byte {
	buf := requestFrame(PlaceMarket, m.Account, placeMarketBodyLen)
	body := buf[baseHeaderLen:]
	body[0] = byte(m.Side)
	binary.BigEndian.PutUint64(body[1:9], m.Quantity)
	body[9] = byte(m.SelfMatchPolicy)
	return buf
}

// Serialize packs m into its wire frame under msgType, which selects the
// base- or quote-denominated swap.
func (m SwapMessage) Serialize(msgType MessageType) []byte {
	buf := requestFrame(msgType, m.Account, swapBodyLen)
	body := buf[baseHeaderLen:]
	binary.BigEndian.PutUint64(body[0:8], m.Quantity)
	body[8] = byte(m.SelfMatchPolicy)
	return buf
}

// Serialize packs m into its wire frame.
func (m CancelOrderMessage) Serialize() []byte {
	buf := requestFrame(CancelOrder, m.Account, cancelOrderBodyLen)
	binary.BigEndian.PutUint64(buf[baseHeaderLen:], m.OrderID)
	return buf
}

// Serialize packs m into its wire frame.
func (m CancelAllMessage) Serialize() []byte {
	return requestFrame(CancelAll, m.Account, cancelAllBodyLen)
}

func readUUID(b []byte) (uuid.UUID, error) {
	var u uuid.UUID
	if len(b) < 16 {
		return u, ErrInvalidUUID
	}
	copy(u[:], b[:16])
	return u, nil
}

// ParseRequest reads a MessageType and account id off msg's header, then
// decodes the operation-specific body. msgType is returned even when the
// body fails to parse, so the caller can still log which operation was
// attempted; a frame shorter than the header yields 0.
func ParseRequest(msg []byte) (MessageType, any, error) {
	if len(msg) < baseHeaderLen {
		return 0, nil, ErrMessageTooShort
	}
	msgType := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	account, err := readUUID(msg[2:18])
	if err != nil {
		return msgType, nil, err
	}
	body := msg[18:]

	switch msgType {
	case PlaceLimit:
		if len(body) < placeLimitBodyLen {
			return msgType, nil, ErrMessageTooShort
		}
		return msgType, PlaceLimitMessage{
			Account:           account,
			Side:              book.Side(body[0]),
			ClientID:          binary.BigEndian.Uint64(body[1:9]),
			Price:             binary.BigEndian.Uint64(body[9:17]),
			Quantity:          binary.BigEndian.Uint64(body[17:25]),
			ExpireTimestampMs: binary.BigEndian.Uint64(body[25:33]),
			Restriction:       engine.Restriction(body[33]),
			SelfMatchPolicy:   engine.SelfMatchPolicy(body[34]),
		}, nil
	case PlaceMarket:
		if len(body) < placeMarketBodyLen {
			return msgType, nil, ErrMessageTooShort
		}
		return msgType, PlaceMarketMessage{
			Account:         account,
			Side:            book.Side(body[0]),
			Quantity:        binary.BigEndian.Uint64(body[1:9]),
			SelfMatchPolicy: engine.SelfMatchPolicy(body[9]),
		}, nil
	case SwapExactBaseForQuote, SwapExactQuoteForBase:
		if len(body) < swapBodyLen {
			return msgType, nil, ErrMessageTooShort
		}
		return msgType, SwapMessage{
			Account:         account,
			Quantity:        binary.BigEndian.Uint64(body[0:8]),
			SelfMatchPolicy: engine.SelfMatchPolicy(body[8]),
		}, nil
	case CancelOrder:
		if len(body) < cancelOrderBodyLen {
			return msgType, nil, ErrMessageTooShort
		}
		return msgType, CancelOrderMessage{
			Account: account,
			OrderID: binary.BigEndian.Uint64(body[0:8]),
		}, nil
	case CancelAll:
		return msgType, CancelAllMessage{Account: account}, nil
	case Heartbeat:
		return msgType, nil, nil
	default:
		return msgType, nil, ErrInvalidMessageType
	}
}

// ReportMessageType tags a response frame.
type ReportMessageType uint8

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
)

// Report is the wire form of an engine.Event (on success) or a rejected
// operation (on failure).
type Report struct {
	MessageType ReportMessageType
	Kind        engine.EventKind
	OrderID     uint64
	Price       uint64
	BaseQty     uint64
	QuoteQty    uint64
	MakerRebate uint64
	TakerFee    uint64
	NowMs       uint64
	PoolIDLen   uint16
	AccountLen  uint16
	ErrStrLen   uint32
	PoolID      string
	Account     string
	Err         string
}

// ReportFixedHeaderLen is the size of a Report frame before its three
// variable-length trailing strings; clients read exactly this much to
// learn how much more to read.
const ReportFixedHeaderLen = 1 + 1 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 2 + 2 + 4

// Serialize packs r into its wire form.
func (r *Report) Serialize() []byte {
	r.PoolIDLen = uint16(len(r.PoolID))
	r.AccountLen = uint16(len(r.Account))
	r.ErrStrLen = uint32(len(r.Err))

	buf := make([]byte, ReportFixedHeaderLen+len(r.PoolID)+len(r.Account)+len(r.Err))
	buf[0] = byte(r.MessageType)
	buf[1] = byte(r.Kind)
	binary.BigEndian.PutUint64(buf[2:10], r.OrderID)
	binary.BigEndian.PutUint64(buf[10:18], r.Price)
	binary.BigEndian.PutUint64(buf[18:26], r.BaseQty)
	binary.BigEndian.PutUint64(buf[26:34], r.QuoteQty)
	binary.BigEndian.PutUint64(buf[34:42], r.MakerRebate)
	binary.BigEndian.PutUint64(buf[42:50], r.TakerFee)
	binary.BigEndian.PutUint64(buf[50:58], r.NowMs)
	binary.BigEndian.PutUint16(buf[58:60], r.PoolIDLen)
	binary.BigEndian.PutUint16(buf[60:62], r.AccountLen)
	binary.BigEndian.PutUint32(buf[62:66], r.ErrStrLen)

	offset := ReportFixedHeaderLen
	copy(buf[offset:], r.PoolID)
	offset += len(r.PoolID)
	copy(buf[offset:], r.Account)
	offset += len(r.Account)
	copy(buf[offset:], r.Err)
	return buf
}

// ParseReport decodes a Serialize'd Report.
func ParseReport(msg []byte) (Report, error) {
	if len(msg) < ReportFixedHeaderLen {
		return Report{}, ErrMessageTooShort
	}
	r := Report{
		MessageType: ReportMessageType(msg[0]),
		Kind:        engine.EventKind(msg[1]),
		OrderID:     binary.BigEndian.Uint64(msg[2:10]),
		Price:       binary.BigEndian.Uint64(msg[10:18]),
		BaseQty:     binary.BigEndian.Uint64(msg[18:26]),
		QuoteQty:    binary.BigEndian.Uint64(msg[26:34]),
		MakerRebate: binary.BigEndian.Uint64(msg[34:42]),
		TakerFee:    binary.BigEndian.Uint64(msg[42:50]),
		NowMs:       binary.BigEndian.Uint64(msg[50:58]),
		PoolIDLen:   binary.BigEndian.Uint16(msg[58:60]),
		AccountLen:  binary.BigEndian.Uint16(msg[60:62]),
		ErrStrLen:   binary.BigEndian.Uint32(msg[62:66]),
	}
	body := msg[ReportFixedHeaderLen:]
	if len(body) < int(r.PoolIDLen)+int(r.AccountLen)+int(r.ErrStrLen) {
		return Report{}, ErrMessageTooShort
	}
	r.PoolID = string(body[:r.PoolIDLen])
	body = body[r.PoolIDLen:]
	r.Account = string(body[:r.AccountLen])
	body = body[r.AccountLen:]
	r.Err = string(body[:r.ErrStrLen])
	return r, nil
}

// EventReport converts an engine.Event into an ExecutionReport.
func EventReport(e engine.Event) Report {
	return Report{
		MessageType: ExecutionReport,
		Kind:        e.Kind,
		OrderID:     e.OrderID,
		Price:       e.Price,
		BaseQty:     e.BaseQty,
		QuoteQty:    e.QuoteQty,
		MakerRebate: e.MakerRebate,
		TakerFee:    e.TakerFee,
		NowMs:       e.NowMs,
		PoolID:      e.PoolID,
		Account:     e.Account,
	}
}

// NewErrorReport builds an ErrorReport frame for a rejected operation.
func NewErrorReport(poolID string, account string, nowMs uint64, err error) Report {
	return Report{
		MessageType: ErrorReport,
		PoolID:      poolID,
		Account:     account,
		NowMs:       nowMs,
		Err:         err.Error(),
	}
}
