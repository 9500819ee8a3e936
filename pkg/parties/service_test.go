package parties

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	aliceAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bobAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

type mockPartyRepository struct {
	mock.Mock
}

func (m *mockPartyRepository) CreateParty(ctx context.Context, p Party) (Party, error) {
	args := m.Called(ctx, p)
	out, _ := args.Get(0).(Party)
	return out, args.Error(1)
}

func (m *mockPartyRepository) UpdateParty(ctx context.Context, p Party) (Party, error) {
	args := m.Called(ctx, p)
	out, _ := args.Get(0).(Party)
	return out, args.Error(1)
}

func (m *mockPartyRepository) DeleteParty(ctx context.Context, addr common.Address) error {
	args := m.Called(ctx, addr)
	return args.Error(0)
}

func (m *mockPartyRepository) GetParty(ctx context.Context, addr common.Address) (Party, error) {
	args := m.Called(ctx, addr)
	out, _ := args.Get(0).(Party)
	return out, args.Error(1)
}

func (m *mockPartyRepository) ListParties(ctx context.Context, limit, offset int) ([]Party, int64, error) {
	args := m.Called(ctx, limit, offset)
	out, _ := args.Get(0).([]Party)
	return out, args.Get(1).(int64), args.Error(2)
}

func TestPartyService_RegisterParty_Normalizes(t *testing.T) {
	repo := new(mockPartyRepository)
	svc := NewPartyService(repo)
	ctx := context.Background()

	expected := Party{Address: aliceAddr, Name: "Alice", Email: "alice@example.com", Role: RoleBuyer, CreatedAt: time.Now()}
	repo.On("CreateParty", ctx, Party{Address: aliceAddr, Name: "Alice", Email: "alice@example.com", Role: RoleBuyer}).Return(expected, nil)

	got, err := svc.RegisterParty(ctx, Party{Address: aliceAddr, Name: " Alice ", Email: "alice@example.com", Role: "BUYER"})

	require.NoError(t, err)
	require.Equal(t, expected, got)
	repo.AssertExpectations(t)
}

func TestPartyService_RegisterParty_Validation(t *testing.T) {
	repo := new(mockPartyRepository)
	svc := NewPartyService(repo)
	ctx := context.Background()

	_, err := svc.RegisterParty(ctx, Party{Address: aliceAddr, Name: "Alice", Role: "founder"})
	require.ErrorIs(t, err, ErrInvalidRole)

	_, err = svc.RegisterParty(ctx, Party{Address: aliceAddr, Name: "Alice", Email: "not-an-email", Role: RoleBuyer})
	require.ErrorIs(t, err, ErrInvalidEmail)

	_, err = svc.RegisterParty(ctx, Party{Address: aliceAddr, Name: "  ", Role: RoleBuyer})
	require.ErrorIs(t, err, ErrInvalidName)

	repo.AssertNotCalled(t, "CreateParty", mock.Anything, mock.Anything)
}

func TestPartyService_ListParties_ClampsPaging(t *testing.T) {
	repo := new(mockPartyRepository)
	svc := NewPartyService(repo)
	ctx := context.Background()

	repo.On("ListParties", ctx, 20, 0).Return([]Party{}, int64(0), nil)

	_, _, err := svc.ListParties(ctx, 0, 500)

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestMemoryPartyRepository(t *testing.T) {
	repo := NewMemoryPartyRepository()
	ctx := context.Background()

	_, err := repo.CreateParty(ctx, Party{Address: aliceAddr, Name: "Alice", Role: RoleSellerAuthority})
	require.NoError(t, err)
	_, err = repo.CreateParty(ctx, Party{Address: aliceAddr, Name: "Again", Role: RoleSellerAuthority})
	require.ErrorIs(t, err, ErrPartyExists)
	_, err = repo.CreateParty(ctx, Party{Address: bobAddr, Name: "Bob", Role: RoleBuyer})
	require.NoError(t, err)

	updated, err := repo.UpdateParty(ctx, Party{Address: bobAddr, Name: "Robert", Role: RoleBuyer})
	require.NoError(t, err)
	require.Equal(t, "Robert", updated.Name)
	require.False(t, updated.CreatedAt.IsZero())

	list, total, err := repo.ListParties(ctx, 1, 1)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, list, 1)

	require.NoError(t, repo.DeleteParty(ctx, aliceAddr))
	_, err = repo.GetParty(ctx, aliceAddr)
	require.ErrorIs(t, err, ErrPartyNotFound)
	require.ErrorIs(t, repo.DeleteParty(ctx, aliceAddr), ErrPartyNotFound)
}
