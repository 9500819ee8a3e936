package parties

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidRole  = errors.New("invalid role")
	ErrInvalidEmail = errors.New("invalid email")
	ErrInvalidName  = errors.New("name is required")
)

type PartyService interface {
	RegisterParty(ctx context.Context, p Party) (Party, error)
	UpdateParty(ctx context.Context, p Party) (Party, error)
	DeleteParty(ctx context.Context, addr common.Address) error
	GetParty(ctx context.Context, addr common.Address) (Party, error)
	ListParties(ctx context.Context, page, limit int) ([]Party, int64, error)
}

type partyService struct {
	repo PartyRepository
}

func NewPartyService(repo PartyRepository) PartyService {
	return &partyService{repo: repo}
}

func isValidRole(role string) bool {
	switch role {
	case RoleSellerAuthority, RoleBuyer, RoleInspector, RoleLoanProvider:
		return true
	default:
		return false
	}
}

func normalize(p Party) (Party, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	p.Role = strings.ToLower(strings.TrimSpace(p.Role))
	if p.Name == "" {
		return Party{}, ErrInvalidName
	}
	if !isValidRole(p.Role) {
		return Party{}, ErrInvalidRole
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return Party{}, ErrInvalidEmail
		}
	}
	return p, nil
}

func (s *partyService) RegisterParty(ctx context.Context, p Party) (Party, error) {
	p, err := normalize(p)
	if err != nil {
		return Party{}, err
	}
	return s.repo.CreateParty(ctx, p)
}

func (s *partyService) UpdateParty(ctx context.Context, p Party) (Party, error) {
	p, err := normalize(p)
	if err != nil {
		return Party{}, err
	}
	return s.repo.UpdateParty(ctx, p)
}

func (s *partyService) DeleteParty(ctx context.Context, addr common.Address) error {
	return s.repo.DeleteParty(ctx, addr)
}

func (s *partyService) GetParty(ctx context.Context, addr common.Address) (Party, error) {
	return s.repo.GetParty(ctx, addr)
}

func (s *partyService) ListParties(ctx context.Context, page, limit int) ([]Party, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit
	return s.repo.ListParties(ctx, limit, offset)
}
