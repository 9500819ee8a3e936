package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"propertyescrow/pkg/escrow"
	"propertyescrow/pkg/parties"
)

type sentEmail struct {
	subject string
	to      string
	plain   string
}

type fakeEmailService struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (f *fakeEmailService) SendEmail(_ context.Context, subject, toEmail, plain, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEmail{subject: subject, to: toEmail, plain: plain})
	return nil
}

func (f *fakeEmailService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var (
	buyer  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	seller = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func finalizedEvent() escrow.Event {
	return escrow.Event{
		ID:      "evt-1",
		Type:    escrow.EventTypeFinalized,
		AssetID: 3,
		Attributes: map[string]string{
			"buyer":  buyer.Hex(),
			"payee":  seller.Hex(),
			"amount": "10",
		},
	}
}

func TestSettlementNotifier_EmailsKnownParties(t *testing.T) {
	dir := parties.NewMemoryPartyRepository()
	ctx := context.Background()
	_, err := dir.CreateParty(ctx, parties.Party{Address: buyer, Name: "Bea", Email: "bea@example.com", Role: parties.RoleBuyer})
	require.NoError(t, err)
	_, err = dir.CreateParty(ctx, parties.Party{Address: seller, Name: "Sam", Email: "sam@example.com", Role: parties.RoleSellerAuthority})
	require.NoError(t, err)

	email := &fakeEmailService{}
	n := NewSettlementNotifier(email, dir, nil)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go n.Run(runCtx)

	n.Emit(finalizedEvent())

	require.Eventually(t, func() bool { return email.count() == 2 }, time.Second, 10*time.Millisecond)
	email.mu.Lock()
	defer email.mu.Unlock()
	require.Equal(t, "bea@example.com", email.sent[0].to)
	require.Equal(t, "Property #3 is now yours", email.sent[0].subject)
	require.Contains(t, email.sent[0].plain, "Hi Bea")
	require.Equal(t, "sam@example.com", email.sent[1].to)
}

func TestSettlementNotifier_SkipsUnknownAndOtherEvents(t *testing.T) {
	dir := parties.NewMemoryPartyRepository()
	_, err := dir.CreateParty(context.Background(), parties.Party{Address: seller, Name: "Sam", Role: parties.RoleSellerAuthority})
	require.NoError(t, err)

	email := &fakeEmailService{}
	n := NewSettlementNotifier(email, dir, nil)

	n.Emit(escrow.Event{Type: escrow.EventTypeDeposited, AssetID: 3})
	require.Len(t, n.queue, 0)

	n.Emit(finalizedEvent())
	require.Len(t, n.queue, 1)
	n.deliver(context.Background(), <-n.queue)

	require.Equal(t, 0, email.count())
}

func TestSettlementNotifier_DropsWhenQueueFull(t *testing.T) {
	n := NewSettlementNotifier(&fakeEmailService{}, parties.NewMemoryPartyRepository(), nil)

	for i := 0; i < queueSize+5; i++ {
		n.Emit(finalizedEvent())
	}

	require.Len(t, n.queue, queueSize)
}
