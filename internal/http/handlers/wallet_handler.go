// README: Wallet handlers for balance, history and admin adjustments.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/wallet"
	"dispatch/internal/types"
)

type WalletHandler struct {
	wallet *wallet.Service
}

func NewWalletHandler(svc *wallet.Service) *WalletHandler {
	return &WalletHandler{wallet: svc}
}

func (h *WalletHandler) Balance(c *gin.Context) {
	owner := callerID(c)
	bal, err := h.wallet.Balance(c.Request.Context(), owner)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"ownerId": owner, "balance": bal})
}

func (h *WalletHandler) Transactions(c *gin.Context) {
	txs, err := h.wallet.Transactions(c.Request.Context(), callerID(c), queryLimit(c, 50, 200))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"transactions": txs})
}

type adjustReq struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Description string `json:"description" binding:"max=256"`
	Reference   string `json:"reference" binding:"max=128"`
}

func (h *WalletHandler) Credit(c *gin.Context) {
	h.adjust(c, h.wallet.Credit)
}

func (h *WalletHandler) Debit(c *gin.Context) {
	h.adjust(c, h.wallet.Debit)
}

type ledgerOp func(ctx context.Context, owner types.ID, amount int64, description, reference string) (*wallet.Transaction, error)

// adjust is an admin-only manual credit or debit on /admin/wallets/:owner.
func (h *WalletHandler) adjust(c *gin.Context, op ledgerOp) {
	if !requireRole(c, RoleAdmin) {
		return
	}
	owner, ok := pathID(c, "owner")
	if !ok {
		return
	}
	var req adjustReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	desc := req.Description
	if desc == "" {
		desc = "manual adjustment by " + string(callerID(c))
	}
	tx, err := op(c.Request.Context(), owner, req.Amount, desc, req.Reference)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, tx)
}
