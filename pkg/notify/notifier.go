package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"propertyescrow/pkg/escrow"
	"propertyescrow/pkg/parties"
)

const queueSize = 64

// PartyLookup resolves an address to its directory entry.
type PartyLookup interface {
	GetParty(ctx context.Context, addr common.Address) (parties.Party, error)
}

// SettlementNotifier emails the buyer and the payee when a sale is
// finalized. Emit only enqueues; Run performs the lookups and sends.
type SettlementNotifier struct {
	email   EmailService
	parties PartyLookup
	logger  *zap.Logger
	queue   chan escrow.Event
}

func NewSettlementNotifier(email EmailService, lookup PartyLookup, logger *zap.Logger) *SettlementNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettlementNotifier{
		email:   email,
		parties: lookup,
		logger:  logger,
		queue:   make(chan escrow.Event, queueSize),
	}
}

func (n *SettlementNotifier) Emit(evt escrow.Event) {
	if evt.Type != escrow.EventTypeFinalized {
		return
	}
	select {
	case n.queue <- evt:
	default:
		n.logger.Warn("settlement notification dropped: queue full",
			zap.String("event_id", evt.ID),
			zap.Uint64("asset_id", evt.AssetID))
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (n *SettlementNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-n.queue:
			n.deliver(ctx, evt)
		}
	}
}

func (n *SettlementNotifier) deliver(ctx context.Context, evt escrow.Event) {
	recipients := []struct {
		key     string
		subject string
	}{
		{"buyer", fmt.Sprintf("Property #%d is now yours", evt.AssetID)},
		{"payee", fmt.Sprintf("Sale of property #%d settled", evt.AssetID)},
	}
	for _, r := range recipients {
		addr := common.HexToAddress(evt.Attributes[r.key])
		party, err := n.parties.GetParty(ctx, addr)
		if err != nil {
			if !errors.Is(err, parties.ErrPartyNotFound) {
				n.logger.Error("party lookup failed", zap.String("address", addr.Hex()), zap.Error(err))
			}
			continue
		}
		if party.Email == "" {
			continue
		}
		plain, html := settlementBody(party.Name, evt)
		if err := n.email.SendEmail(ctx, r.subject, party.Email, plain, html); err != nil {
			n.logger.Error("settlement email failed",
				zap.String("to", party.Email),
				zap.Uint64("asset_id", evt.AssetID),
				zap.Error(err))
			continue
		}
		n.logger.Info("settlement email sent",
			zap.String("to", party.Email),
			zap.Uint64("asset_id", evt.AssetID))
	}
}

func settlementBody(name string, evt escrow.Event) (string, string) {
	if name == "" {
		name = "there"
	}
	plain := fmt.Sprintf("Hi %s,\n\nThe sale of property #%d has been finalized.\nBuyer: %s\nAmount released: %s wei\n",
		name, evt.AssetID, evt.Attributes["buyer"], evt.Attributes["amount"])
	html := fmt.Sprintf("<p>Hi %s,</p><p>The sale of property <strong>#%d</strong> has been finalized.</p><p>Buyer: %s<br>Amount released: %s wei</p>",
		name, evt.AssetID, evt.Attributes["buyer"], evt.Attributes["amount"])
	return plain, html
}
