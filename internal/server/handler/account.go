package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// AccountService defines what the account handler needs from the service
// layer.
type AccountService interface {
	Connect(ctx context.Context, wallet string) (domain.Account, error)
	Balance(ctx context.Context, wallet string) (domain.BalanceSnapshot, error)
	Deposit(ctx context.Context, wallet, txHash string, amountTicks int64) (domain.Account, error)
	Withdraw(ctx context.Context, wallet, toAddress string, amountTicks int64) (domain.Transaction, error)
	Transactions(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Transaction, error)
}

// AccountHandler serves wallet onboarding and balance endpoints.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

type accountResponse struct {
	Wallet         string  `json:"wallet"`
	Username       string  `json:"username,omitempty"`
	Available      float64 `json:"balance_available"`
	Escrow         float64 `json:"balance_escrow"`
	SellerRating   float64 `json:"seller_rating"`
	SellerRatings  int     `json:"seller_ratings"`
	BuyerRating    float64 `json:"buyer_rating"`
	BuyerRatings   int     `json:"buyer_ratings"`
	OrdersAsBuyer  int     `json:"orders_as_buyer"`
	OrdersAsSeller int     `json:"orders_as_seller"`
	IsVerified     bool    `json:"is_verified"`
}

func toAccountResponse(a domain.Account) accountResponse {
	return accountResponse{
		Wallet:         a.Wallet,
		Username:       a.Username,
		Available:      a.Available(),
		Escrow:         a.Escrow(),
		SellerRating:   a.SellerRating,
		SellerRatings:  a.SellerRatings,
		BuyerRating:    a.BuyerRating,
		BuyerRatings:   a.BuyerRatings,
		OrdersAsBuyer:  a.OrdersAsBuyer,
		OrdersAsSeller: a.OrdersAsSeller,
		IsVerified:     a.IsVerified,
	}
}

// Connect registers or looks up the wallet's account.
// POST /api/auth/connect
func (h *AccountHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress string `json:"wallet_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	acct, err := h.accounts.Connect(r.Context(), req.WalletAddress)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

// Balance returns the wallet's balance snapshot.
// GET /api/balance/{wallet}
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	snap, err := h.accounts.Balance(r.Context(), pathParam(r, "wallet"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Deposit credits a confirmed external transfer.
// POST /api/balance/{wallet}/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxHash string  `json:"tx_hash"`
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	acct, err := h.accounts.Deposit(r.Context(), pathParam(r, "wallet"),
		req.TxHash, domain.TicksFromUSDT(req.Amount))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct.Snapshot())
}

type transactionResponse struct {
	ID            int64   `json:"id"`
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	Fee           float64 `json:"fee,omitempty"`
	OrderID       string  `json:"order_id,omitempty"`
	TxHash        string  `json:"tx_hash,omitempty"`
	ToAddress     string  `json:"to_address,omitempty"`
	Status        string  `json:"status"`
	RequiresAdmin bool    `json:"requires_admin,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func toTransactionResponse(t domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		Type:          string(t.Type),
		Amount:        domain.USDT(t.AmountTicks),
		Fee:           domain.USDT(t.FeeTicks),
		OrderID:       t.OrderID,
		TxHash:        t.TxHash,
		ToAddress:     t.ToAddress,
		Status:        string(t.Status),
		RequiresAdmin: t.RequiresAdmin,
		CreatedAt:     t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// Withdraw debits the wallet's available balance.
// POST /api/balance/{wallet}/withdraw
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount    float64 `json:"amount"`
		ToAddress string  `json:"to_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry, err := h.accounts.Withdraw(r.Context(), pathParam(r, "wallet"),
		req.ToAddress, domain.TicksFromUSDT(req.Amount))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(entry))
}

// Transactions lists the wallet's journal entries.
// GET /api/balance/{wallet}/transactions
func (h *AccountHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.accounts.Transactions(r.Context(), pathParam(r, "wallet"), parseListOpts(r))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}
