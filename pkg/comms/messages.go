package comms

import "fmt"

type MsgType int

const (
	MsgEmpty MsgType = iota
	MsgRegisterRequest
	MsgRegisterResponse
	MsgBidOffer
	MsgAskOffer
	MsgBidResult
	MsgAskResult
	MsgShutdownNotify
	MsgShutdownCommand
)

// BidOffer is a request to buy quantity units at up to UnitPrice each.
// ExpiryMs zero means the offer is valid for a single clearing only.
type BidOffer struct {
	Sender    int
	Commodity string
	Quantity  int
	UnitPrice float64
	ExpiryMs  int64
}

func (o BidOffer) String() string {
	return fmt.Sprintf("BID from %d: %s x%d @ $%.2f", o.Sender, o.Commodity, o.Quantity, o.UnitPrice)
}

// AskOffer is a request to sell quantity units at no less than UnitPrice.
type AskOffer struct {
	Sender    int
	Commodity string
	Quantity  int
	UnitPrice float64
	ExpiryMs  int64
}

func (o AskOffer) String() string {
	return fmt.Sprintf("ASK from %d: %s x%d @ $%.2f", o.Sender, o.Commodity, o.Quantity, o.UnitPrice)
}

// BidResult accumulates the outcome of a bid while it rests in the book and
// is delivered exactly once when the order closes.
type BidResult struct {
	Sender           int
	Commodity        string
	BrokerFeePaid    bool
	QuantityTraded   int
	QuantityUntraded int
	AvgPrice         float64 // volume-weighted fill price
	OriginalPrice    float64 // the bid's limit price
}

func (r *BidResult) RecordTrade(quantity int, unitPrice float64) {
	r.AvgPrice = (r.AvgPrice*float64(r.QuantityTraded) + unitPrice*float64(quantity)) / float64(r.QuantityTraded+quantity)
	r.QuantityTraded += quantity
}

func (r *BidResult) RecordNoTrade(remainder int) {
	r.QuantityUntraded += remainder
}

type AskResult struct {
	Sender           int
	Commodity        string
	BrokerFeePaid    bool
	QuantityTraded   int
	QuantityUntraded int
	AvgPrice         float64
}

func (r *AskResult) RecordTrade(quantity int, unitPrice float64) {
	r.AvgPrice = (r.AvgPrice*float64(r.QuantityTraded) + unitPrice*float64(quantity)) / float64(r.QuantityTraded+quantity)
	r.QuantityTraded += quantity
}

func (r *AskResult) RecordNoTrade(remainder int) {
	r.QuantityUntraded += remainder
}

// RegisterRequest carries the registering trader's handle so the house can
// reply directly before the trader is known, and retain the handle on
// acceptance.
type RegisterRequest struct {
	Trader Trader
}

type RegisterResponse struct {
	Accepted bool
	Reason   string
}

type ShutdownNotify struct {
	ClassName  string
	AgeAtDeath int
}

type ShutdownCommand struct{}

// Message is a tagged union: exactly one payload field is set, matching Type.
type Message struct {
	Sender int
	Type   MsgType

	RegisterRequest  *RegisterRequest
	RegisterResponse *RegisterResponse
	BidOffer         *BidOffer
	AskOffer         *AskOffer
	BidResult        *BidResult
	AskResult        *AskResult
	ShutdownNotify   *ShutdownNotify
	ShutdownCommand  *ShutdownCommand
}

// Envelope pairs an outgoing message with its recipient for outbox queues.
type Envelope struct {
	Recipient int
	Msg       Message
}

func NewRegisterRequest(sender int, t Trader) Message {
	return Message{Sender: sender, Type: MsgRegisterRequest, RegisterRequest: &RegisterRequest{Trader: t}}
}

func NewRegisterResponse(sender int, accepted bool, reason string) Message {
	return Message{Sender: sender, Type: MsgRegisterResponse, RegisterResponse: &RegisterResponse{Accepted: accepted, Reason: reason}}
}

func NewBidOffer(offer BidOffer) Message {
	return Message{Sender: offer.Sender, Type: MsgBidOffer, BidOffer: &offer}
}

func NewAskOffer(offer AskOffer) Message {
	return Message{Sender: offer.Sender, Type: MsgAskOffer, AskOffer: &offer}
}

func NewBidResult(sender int, result BidResult) Message {
	return Message{Sender: sender, Type: MsgBidResult, BidResult: &result}
}

func NewAskResult(sender int, result AskResult) Message {
	return Message{Sender: sender, Type: MsgAskResult, AskResult: &result}
}

func NewShutdownNotify(sender int, className string, age int) Message {
	return Message{Sender: sender, Type: MsgShutdownNotify, ShutdownNotify: &ShutdownNotify{ClassName: className, AgeAtDeath: age}}
}

func NewShutdownCommand(sender int) Message {
	return Message{Sender: sender, Type: MsgShutdownCommand, ShutdownCommand: &ShutdownCommand{}}
}
