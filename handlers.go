package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tabshare/tabshare_backend/config"
	"github.com/tabshare/tabshare_backend/middlewares"
	"github.com/tabshare/tabshare_backend/models"
	"github.com/tabshare/tabshare_backend/models/reports"
	"github.com/tabshare/tabshare_backend/utils"
	"gorm.io/gorm"
)

func writeModelError(c *gin.Context, err error) {
	var notFound *models.DebtNotFoundError
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error(), "code": notFound.Code, "id": notFound.Id})
	case errors.Is(err, utils.ErrorRecordNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func registerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewAccount
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		account, err := models.RegisterAccount(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, account)
	}
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		info, err := models.Login(c.Request.Context(), input.Username, input.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := models.Logout(c.Request.Context())
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": ok})
	}
}

func logoutAllHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		revoked, err := models.LogoutAll(c.Request.Context())
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"revoked": revoked})
	}
}

func meHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountId, ok := utils.GetAccountIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		account, err := middlewares.GetAccount(c.Request.Context(), accountId)
		if err != nil {
			writeModelError(c, err)
			return
		}
		account.PrepareGive()
		c.JSON(http.StatusOK, account)
	}
}

func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

func listUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := models.GetUsers(c.Request.Context())
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, users)
	}
}

func getUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		user, err := middlewares.GetUser(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func createReceiptHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewReceipt
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		receipt, err := models.CreateReceipt(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, receipt)
	}
}

func listReceiptsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := config.SearchLimit
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		receipts, err := models.GetReceipts(c.Request.Context(), limit)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipts)
	}
}

func getReceiptHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		receipt, err := middlewares.GetReceipt(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	}
}

func receiptSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		summary, err := models.GetReceiptSyncSummary(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func propagateReceiptHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		result, err := models.PropagateReceiptDebts(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func createDebtHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewDebt
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		debt, err := models.CreateDebt(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, debt.LocalView())
	}
}

func listDebtsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := config.SearchLimit
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		debts, err := models.GetDebts(c.Request.Context(), limit)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, debts)
	}
}

func updateDebtHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.UpdateDebtInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		debt, err := models.UpdateDebt(c.Request.Context(), id, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, debt.LocalView())
	}
}

func pendingIntentionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		intentions, err := models.GetPendingIntentions(c.Request.Context())
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, intentions)
	}
}

func acceptDebtHandler(accept models.DebtAcceptFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "debt.accept")
		defer span.End()
		result, err := accept(ctx, id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func exportDebtsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountId, ok := utils.GetAccountIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=debts.xlsx")
		if err := reports.WriteDebtLedgerXlsx(c.Request.Context(), accountId, c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}
