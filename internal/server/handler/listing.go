package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// ListingService defines what the listing handler needs from the service
// layer.
type ListingService interface {
	Create(ctx context.Context, sellerWallet string, l domain.Listing) (domain.Listing, error)
	Get(ctx context.Context, id int64) (domain.Listing, error)
	Update(ctx context.Context, sellerWallet string, l domain.Listing) (domain.Listing, error)
	Browse(ctx context.Context, f domain.ListingFilter, opts domain.ListOpts) ([]domain.Listing, error)
	BySeller(ctx context.Context, sellerWallet string) ([]domain.Listing, error)
}

// ListingHandler serves the marketplace catalogue endpoints.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{listings: listings, logger: logger}
}

type listingPayload struct {
	Wallet       string  `json:"wallet"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Algorithm    string  `json:"algorithm"`
	Hashrate     float64 `json:"hashrate"`
	HashrateUnit string  `json:"hashrate_unit"`
	PricePerHour float64 `json:"price_per_hour"`
	MinHours     int     `json:"min_hours"`
	MaxHours     int     `json:"max_hours"`
	HardwareInfo string  `json:"hardware_info"`
	Region       string  `json:"region"`
	Status       string  `json:"status"`
}

type listingResponse struct {
	ID           int64   `json:"id"`
	SellerWallet string  `json:"seller_wallet"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Algorithm    string  `json:"algorithm"`
	Hashrate     float64 `json:"hashrate"`
	HashrateUnit string  `json:"hashrate_unit"`
	PricePerHour float64 `json:"price_per_hour"`
	MinHours     int     `json:"min_hours"`
	MaxHours     int     `json:"max_hours"`
	HardwareInfo string  `json:"hardware_info,omitempty"`
	Region       string  `json:"region"`
	Status       string  `json:"status"`
}

func toListingResponse(l domain.Listing) listingResponse {
	return listingResponse{
		ID:           l.ID,
		SellerWallet: l.SellerWallet,
		Title:        l.Title,
		Description:  l.Description,
		Algorithm:    l.Algorithm,
		Hashrate:     l.Hashrate,
		HashrateUnit: l.HashrateUnit,
		PricePerHour: l.PricePerHour(),
		MinHours:     l.MinHours,
		MaxHours:     l.MaxHours,
		HardwareInfo: l.HardwareInfo,
		Region:       l.Region,
		Status:       string(l.Status),
	}
}

func (p listingPayload) toDomain() domain.Listing {
	return domain.Listing{
		Title:             p.Title,
		Description:       p.Description,
		Algorithm:         p.Algorithm,
		Hashrate:          p.Hashrate,
		HashrateUnit:      p.HashrateUnit,
		PricePerHourTicks: domain.TicksFromUSDT(p.PricePerHour),
		MinHours:          p.MinHours,
		MaxHours:          p.MaxHours,
		HardwareInfo:      p.HardwareInfo,
		Region:            p.Region,
		Status:            domain.ListingStatus(p.Status),
	}
}

// Create publishes a new listing.
// POST /api/listings
func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req listingPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MinHours == 0 {
		req.MinHours = 1
	}
	if req.MaxHours == 0 {
		req.MaxHours = 720
	}

	created, err := h.listings.Create(r.Context(), req.Wallet, req.toDomain())
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingResponse(created))
}

// Get returns one listing.
// GET /api/listings/{id}
func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}
	l, err := h.listings.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(l))
}

// Browse returns active listings matching optional filters.
// GET /api/listings?algorithm=&region=&max_price=
func (h *ListingHandler) Browse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ListingFilter{
		Algorithm: q.Get("algorithm"),
		Region:    q.Get("region"),
	}
	if v := q.Get("max_price"); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil && p > 0 {
			filter.MaxPriceTicks = domain.TicksFromUSDT(p)
		}
	}

	listings, err := h.listings.Browse(r.Context(), filter, parseListOpts(r))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	out := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingResponse(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": out})
}

// Update applies seller edits.
// PATCH /api/listings/{id}
func (h *ListingHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	var req listingPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	l := req.toDomain()
	l.ID = id
	if l.Status == "" {
		l.Status = domain.ListingStatusActive
	}

	updated, err := h.listings.Update(r.Context(), req.Wallet, l)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(updated))
}

// BySeller returns a wallet's listings.
// GET /api/accounts/{wallet}/listings
func (h *ListingHandler) BySeller(w http.ResponseWriter, r *http.Request) {
	listings, err := h.listings.BySeller(r.Context(), pathParam(r, "wallet"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	out := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingResponse(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": out})
}
