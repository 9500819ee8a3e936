package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"propertyescrow/pkg/escrow"
	"propertyescrow/pkg/parties"
	"propertyescrow/pkg/registry"
)

type PropertySeed struct {
	MetadataURI   string `yaml:"metadataURI"`
	Buyer         string `yaml:"buyer"`
	PurchasePrice string `yaml:"purchasePrice"`
	DownPayment   string `yaml:"downPayment"`
}

type PartySeed struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
	Email   string `yaml:"email"`
	Role    string `yaml:"role"`
}

// File is the seed document: directory entries first, then properties to
// mint and list.
type File struct {
	Parties    []PartySeed    `yaml:"parties"`
	Properties []PropertySeed `yaml:"properties"`
}

// Load reads and validates a seed file.
func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read seed file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

func (f File) Validate() error {
	var errs []error
	for i, p := range f.Parties {
		if !common.IsHexAddress(p.Address) {
			errs = append(errs, fmt.Errorf("parties[%d]: invalid address %q", i, p.Address))
		}
	}
	for i, p := range f.Properties {
		if p.MetadataURI == "" {
			errs = append(errs, fmt.Errorf("properties[%d]: metadataURI is required", i))
		}
		if !common.IsHexAddress(p.Buyer) {
			errs = append(errs, fmt.Errorf("properties[%d]: invalid buyer %q", i, p.Buyer))
		}
		if _, err := escrow.ParseAmount(p.PurchasePrice); err != nil {
			errs = append(errs, fmt.Errorf("properties[%d]: purchasePrice: %w", i, err))
		}
		if _, err := escrow.ParseAmount(p.DownPayment); err != nil {
			errs = append(errs, fmt.Errorf("properties[%d]: downPayment: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Lister is the slice of the engine the seeder drives.
type Lister interface {
	List(ctx context.Context, caller common.Address, assetID uint64, buyer common.Address, price, downPayment *uint256.Int) (*escrow.Listing, error)
	Self() common.Address
	Roles() escrow.Roles
}

// Seeder replays a seed file: register parties, then for each property mint
// it to the seller authority, approve the engine and list it.
type Seeder struct {
	Registry registry.Registry
	Engine   Lister
	Parties  parties.PartyService
	Logger   *zap.Logger
}

// Result lists the asset ids minted and listed, in file order.
type Result struct {
	Listed []uint64
}

func (s Seeder) Run(ctx context.Context, f File) (Result, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if s.Parties != nil {
		for _, p := range f.Parties {
			_, err := s.Parties.RegisterParty(ctx, parties.Party{
				Address: common.HexToAddress(p.Address),
				Name:    p.Name,
				Email:   p.Email,
				Role:    p.Role,
			})
			switch {
			case errors.Is(err, parties.ErrPartyExists):
				logger.Debug("party already registered", zap.String("address", p.Address))
			case err != nil:
				return Result{}, fmt.Errorf("register party %s: %w", p.Address, err)
			}
		}
	}

	seller := s.Engine.Roles().SellerAuthority
	self := s.Engine.Self()
	var res Result
	for _, p := range f.Properties {
		price, err := escrow.ParseAmount(p.PurchasePrice)
		if err != nil {
			return res, err
		}
		down, err := escrow.ParseAmount(p.DownPayment)
		if err != nil {
			return res, err
		}

		id, err := s.Registry.Mint(ctx, seller, p.MetadataURI)
		if err != nil {
			return res, fmt.Errorf("mint %s: %w", p.MetadataURI, err)
		}
		if err := s.Registry.Approve(ctx, seller, self, id); err != nil {
			return res, fmt.Errorf("approve property %d: %w", id, err)
		}
		if _, err := s.Engine.List(ctx, seller, id, common.HexToAddress(p.Buyer), price, down); err != nil {
			return res, fmt.Errorf("list property %d: %w", id, err)
		}
		logger.Info("seeded property",
			zap.Uint64("asset_id", id),
			zap.String("metadata_uri", p.MetadataURI),
			zap.String("purchase_price", price.Dec()))
		res.Listed = append(res.Listed, id)
	}
	return res, nil
}
