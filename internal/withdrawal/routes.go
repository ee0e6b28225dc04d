package withdrawal

import (
	"github.com/gin-gonic/gin"

	"github.com/vendora/payouts/internal/middleware"
)

// Routes configures all payout-related routes
func Routes(router *gin.RouterGroup, handler *Handler, jwtSecret string) {
	auth := middleware.Auth(jwtSecret)

	// Owner endpoints
	payouts := router.Group("/payouts")
	payouts.Use(auth)
	{
		payouts.POST("/withdrawals", handler.CreateWithdrawalHandler)
		payouts.GET("/withdrawals", handler.ListOwnWithdrawalsHandler)
		payouts.GET("/wallet", handler.GetWalletHandler)
		payouts.PUT("/bank-account", handler.SaveBankAccountHandler)
		payouts.POST("/bank-account/change-requests", handler.RequestBankChangeHandler)
		payouts.GET("/ws", handler.ServeWSHandler)
	}

	// Admin endpoints
	admin := router.Group("/admin")
	admin.Use(auth, middleware.RequireAdmin())
	{
		admin.GET("/withdrawals", handler.ListWithdrawalsHandler)
		admin.PUT("/withdrawals/status", handler.BulkTransitionHandler)
		admin.PUT("/withdrawals/:id/status", handler.TransitionHandler)
		admin.PUT("/bank-change-requests/:id", handler.ResolveBankChangeHandler)
		admin.POST("/earnings", handler.CreditEarningsHandler)
	}
}
