package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// ListingService handles the seller side of the marketplace catalogue.
type ListingService struct {
	listings domain.ListingStore
	accounts domain.AccountStore
	logger   *slog.Logger
}

// NewListingService creates a ListingService.
func NewListingService(listings domain.ListingStore, accounts domain.AccountStore, logger *slog.Logger) *ListingService {
	return &ListingService{
		listings: listings,
		accounts: accounts,
		logger:   logger.With(slog.String("component", "listing_service")),
	}
}

func validateListing(l domain.Listing) error {
	if l.Title == "" {
		return domain.Validationf("title", "required")
	}
	if !domain.ValidAlgorithm(l.Algorithm) {
		return domain.Validationf("algorithm", "unknown algorithm %q", l.Algorithm)
	}
	if !domain.ValidHashrateUnit(l.HashrateUnit) {
		return domain.Validationf("hashrate_unit", "unknown unit %q", l.HashrateUnit)
	}
	if l.Hashrate <= 0 {
		return domain.Validationf("hashrate", "must be positive")
	}
	if l.PricePerHourTicks <= 0 {
		return domain.Validationf("price_per_hour", "must be positive")
	}
	if l.MinHours < 1 {
		return domain.Validationf("min_hours", "must be at least 1")
	}
	if l.MaxHours < l.MinHours {
		return domain.Validationf("max_hours", "must be >= min_hours")
	}
	return nil
}

// Create publishes a new listing for the seller wallet.
func (s *ListingService) Create(ctx context.Context, sellerWallet string, l domain.Listing) (domain.Listing, error) {
	w, err := domain.NormalizeWallet(sellerWallet)
	if err != nil {
		return domain.Listing{}, err
	}
	seller, err := s.accounts.GetByWallet(ctx, w)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: create: %w", err)
	}
	if seller.IsBanned {
		return domain.Listing{}, domain.ErrAccountBanned
	}
	if err := validateListing(l); err != nil {
		return domain.Listing{}, err
	}

	l.SellerID = seller.ID
	l.SellerWallet = seller.Wallet
	l.Status = domain.ListingStatusActive

	created, err := s.listings.Create(ctx, l)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "listing created",
		slog.Int64("listing_id", created.ID),
		slog.String("seller", w),
		slog.String("algorithm", created.Algorithm),
	)
	return created, nil
}

// Get returns one listing.
func (s *ListingService) Get(ctx context.Context, id int64) (domain.Listing, error) {
	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: get %d: %w", id, err)
	}
	return l, nil
}

// Update applies seller edits to a listing the wallet owns. A rented listing
// cannot be edited until the rental settles.
func (s *ListingService) Update(ctx context.Context, sellerWallet string, l domain.Listing) (domain.Listing, error) {
	w, err := domain.NormalizeWallet(sellerWallet)
	if err != nil {
		return domain.Listing{}, err
	}
	current, err := s.listings.GetByID(ctx, l.ID)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: update %d: %w", l.ID, err)
	}
	if current.SellerWallet != w {
		return domain.Listing{}, domain.ErrForbidden
	}
	if current.Status == domain.ListingStatusRented {
		return domain.Listing{}, domain.ErrInvalidStateTransition
	}
	if err := validateListing(l); err != nil {
		return domain.Listing{}, err
	}

	switch l.Status {
	case domain.ListingStatusActive, domain.ListingStatusPaused, domain.ListingStatusRemoved:
	default:
		return domain.Listing{}, domain.Validationf("status", "unknown status %q", l.Status)
	}

	l.SellerID = current.SellerID
	l.SellerWallet = current.SellerWallet
	if err := s.listings.Update(ctx, l); err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: update %d: %w", l.ID, err)
	}
	return s.listings.GetByID(ctx, l.ID)
}

// Browse returns active listings matching the filter.
func (s *ListingService) Browse(ctx context.Context, f domain.ListingFilter, opts domain.ListOpts) ([]domain.Listing, error) {
	listings, err := s.listings.Browse(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("listing_service: browse: %w", err)
	}
	return listings, nil
}

// BySeller returns all listings owned by a wallet.
func (s *ListingService) BySeller(ctx context.Context, sellerWallet string) ([]domain.Listing, error) {
	w, err := domain.NormalizeWallet(sellerWallet)
	if err != nil {
		return nil, err
	}
	seller, err := s.accounts.GetByWallet(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("listing_service: by seller %s: %w", w, err)
	}
	listings, err := s.listings.ListBySeller(ctx, seller.ID)
	if err != nil {
		return nil, fmt.Errorf("listing_service: by seller %s: %w", w, err)
	}
	return listings, nil
}
