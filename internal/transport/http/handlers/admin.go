package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/incplusplus/thermostat-accounts/internal/transport/http/middleware"
	"github.com/incplusplus/thermostat-accounts/internal/usecase"
)

// AdminHandler exposes account administration endpoints.
type AdminHandler struct {
	accounts *usecase.AccountService
}

func NewAdminHandler(accounts *usecase.AccountService) *AdminHandler {
	return &AdminHandler{accounts: accounts}
}

// RegisterRoutes binds the admin endpoints. The group must already require authentication.
func (h *AdminHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/admin/accounts", h.ListAccounts)
	r.GET("/admin/accounts/:id", h.GetAccount)
	r.DELETE("/admin/accounts/:id", h.DeleteAccount)
}

func (h *AdminHandler) ListAccounts(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	accounts, err := h.accounts.ListAccounts(c.Request.Context(), principal)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrPermissionDenied, Status: http.StatusForbidden, Message: "insufficient permissions"},
		}, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	summaries := make([]AccountSummary, 0, len(accounts))
	for _, account := range accounts {
		summaries = append(summaries, newAccountSummary(account))
	}
	c.JSON(http.StatusOK, AccountListResponse{Accounts: summaries, Total: len(summaries)})
}

func (h *AdminHandler) GetAccount(c *gin.Context) {
	account, err := h.accounts.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to load account")
		return
	}
	c.JSON(http.StatusOK, newAccountSummary(*account))
}

func (h *AdminHandler) DeleteAccount(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	if err := h.accounts.DeleteAccount(c.Request.Context(), principal, c.Param("id")); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrPermissionDenied, Status: http.StatusForbidden, Message: "insufficient permissions"},
			{Err: usecase.ErrNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to delete account")
		return
	}
	c.Status(http.StatusNoContent)
}
