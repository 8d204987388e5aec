package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrade/internal/service"
)

// WalletHandler handles HTTP requests for account and wallet endpoints.
type WalletHandler struct {
	walletSvc *service.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc *service.WalletService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc}
}

type createAccountRequest struct {
	InitialBalance numeric `json:"initial_balance"`
}

type accountResponse struct {
	OwnerID   string          `json:"owner_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt string          `json:"created_at"`
}

type amountRequest struct {
	Amount numeric `json:"amount"`
}

type balanceResponse struct {
	OwnerID string          `json:"owner_id"`
	Balance decimal.Decimal `json:"balance"`
}

// CreateAccount handles POST /accounts. The body is optional.
func (h *WalletHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if r.ContentLength != 0 {
		if err := ParseJSON(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	a, err := h.walletSvc.CreateAccount(r.Context(), ownerID(r), string(req.InitialBalance))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, accountResponse{
		OwnerID:   a.OwnerID,
		Balance:   a.Balance,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// Balance handles GET /wallet/balance.
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	balance, err := h.walletSvc.Balance(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, balanceResponse{OwnerID: owner, Balance: balance})
}

// Deposit handles POST /wallet/deposit.
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.walletSvc.Deposit)
}

// Withdraw handles POST /wallet/withdraw.
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.walletSvc.Withdraw)
}

func (h *WalletHandler) move(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, ownerID, amount string) (decimal.Decimal, error),
) {
	var req amountRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	owner := ownerID(r)
	balance, err := op(r.Context(), owner, string(req.Amount))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, balanceResponse{OwnerID: owner, Balance: balance})
}
