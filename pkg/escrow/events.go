package escrow

import (
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

const (
	EventTypeListed    = "escrow.listed"
	EventTypeDeposited = "escrow.deposited"
	EventTypeFunded    = "escrow.funded"
	EventTypeInspected = "escrow.inspected"
	EventTypeApproved  = "escrow.approved"
	EventTypeFinalized = "escrow.finalized"
)

// Event describes a committed state change.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	AssetID    uint64            `json:"asset_id,omitempty"`
	Actor      string            `json:"actor"`
	Attributes map[string]string `json:"attributes"`
	At         time.Time         `json:"at"`
}

// Emitter receives committed events. Emit is called while the engine lock is
// held, so implementations must not block or call back into the engine.
type Emitter interface {
	Emit(Event)
}

type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans an event out to every emitter in order.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}

func newEvent(eventType string, assetID uint64, actor common.Address, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		AssetID:    assetID,
		Actor:      actor.Hex(),
		Attributes: make(map[string]string),
		At:         at,
	}
}

func newListedEvent(l *Listing, actor common.Address) Event {
	evt := newEvent(EventTypeListed, l.AssetID, actor, l.ListedAt)
	evt.Attributes["buyer"] = l.Buyer.Hex()
	evt.Attributes["purchasePrice"] = l.PurchasePrice.Dec()
	evt.Attributes["downPayment"] = l.DownPayment.Dec()
	return evt
}

func newDepositedEvent(l *Listing, actor common.Address, amount, balance *uint256.Int, at time.Time) Event {
	evt := newEvent(EventTypeDeposited, l.AssetID, actor, at)
	evt.Attributes["amount"] = amount.Dec()
	evt.Attributes["balance"] = balance.Dec()
	evt.Attributes["downPayment"] = l.DownPayment.Dec()
	evt.Attributes["belowDownPayment"] = strconv.FormatBool(amount.Lt(&l.DownPayment))
	return evt
}

func newFundedEvent(actor common.Address, amount, balance *uint256.Int, at time.Time) Event {
	evt := newEvent(EventTypeFunded, 0, actor, at)
	evt.Attributes["amount"] = amount.Dec()
	evt.Attributes["balance"] = balance.Dec()
	return evt
}

func newInspectedEvent(l *Listing, actor common.Address, at time.Time) Event {
	evt := newEvent(EventTypeInspected, l.AssetID, actor, at)
	evt.Attributes["passed"] = strconv.FormatBool(l.InspectionPassed)
	return evt
}

func newApprovedEvent(l *Listing, actor common.Address, at time.Time) Event {
	return newEvent(EventTypeApproved, l.AssetID, actor, at)
}

func newFinalizedEvent(l *Listing, actor, payee common.Address, balance *uint256.Int) Event {
	evt := newEvent(EventTypeFinalized, l.AssetID, actor, l.FinalizedAt)
	evt.Attributes["buyer"] = l.Buyer.Hex()
	evt.Attributes["payee"] = payee.Hex()
	evt.Attributes["amount"] = l.PurchasePrice.Dec()
	evt.Attributes["balance"] = balance.Dec()
	return evt
}
