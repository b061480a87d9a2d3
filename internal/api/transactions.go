package api

import (
	"fmt"      // Cache key formatting
	"net/http" // HTTP status codes

	"banking_system/internal/ledger" // Money-movement engine
	"banking_system/internal/utils"  // Cache helpers

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/redis/go-redis/v9"  // Redis client
	"github.com/shopspring/decimal" // Fixed-point amounts
)

// AmountRequest credits or debits one owned account
type AmountRequest struct {
	AccountID uint            `json:"account_id" binding:"required"` // Target account
	Amount    decimal.Decimal `json:"amount"`                        // Positive, at most two decimals
}

// TransferRequest moves money between two accounts of this bank
type TransferRequest struct {
	FromAccountID uint            `json:"from_account_id" binding:"required"` // Owned source account
	ToAccountID   uint            `json:"to_account_id" binding:"required"`   // Any destination account
	Amount        decimal.Decimal `json:"amount"`                             // Positive, at most two decimals
	Reference     string          `json:"reference" binding:"max=255"`        // Optional note
}

// OutgoingPaymentRequest pays an IBAN at another bank
type OutgoingPaymentRequest struct {
	FromAccountID uint            `json:"from_account_id" binding:"required"`        // Owned source account
	RecipientName string          `json:"recipient_name" binding:"required,max=255"` // Payee name
	RecipientIBAN string          `json:"recipient_iban" binding:"required,iban"`    // Payee IBAN
	Amount        decimal.Decimal `json:"amount"`                                    // Positive, at most two decimals
	Reference     string          `json:"reference" binding:"max=255"`               // Optional note
}

// IncomingPaymentRequest is the interbank callback crediting one of our IBANs
type IncomingPaymentRequest struct {
	IBAN       string          `json:"iban" binding:"required,iban"`           // Destination IBAN at this bank
	SenderName string          `json:"sender_name" binding:"required,max=255"` // Payer name
	SenderIBAN string          `json:"sender_iban" binding:"omitempty,iban"`   // Payer IBAN when known
	Amount     decimal.Decimal `json:"amount"`                                 // Positive, at most two decimals
	Reference  string          `json:"reference" binding:"max=255"`            // Optional note
}

// movementResponse writes a receipt with the balance of the caller's side
func movementResponse(c *gin.Context, message string, receipt *ledger.Receipt, balance *decimal.Decimal) {
	c.JSON(http.StatusCreated, gin.H{
		"message":     message,             // Outcome
		"transaction": receipt.Transaction, // Logged row
		"new_balance": balance,             // Balance after the movement
	})
}

// TransactionHistoryHandler returns transactions touching any of the caller's accounts
func TransactionHistoryHandler(engine *ledger.Engine, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		f, page, pageSize, err := historyFilter(c, "type", "startDate", "endDate", "limit")
		if err != nil {
			respondError(c, err, "Transaction listing")
			return
		}
		ctx := c.Request.Context()
		// Redis cache key covering every filter
		cacheKey := fmt.Sprintf("%stype=%s:start=%s:end=%s:page=%d:limit=%d",
			utils.HistoryCachePrefix(userID), f.Type, c.Query("startDate"), c.Query("endDate"), page, pageSize)
		var cached map[string]any
		if found, err := utils.GetCache(ctx, rdb, cacheKey, &cached); err == nil && found {
			cached["cached"] = true // Mark the response as cached
			c.JSON(http.StatusOK, cached)
			return
		}

		views, total, err := engine.History(ctx, userID, f)
		if err != nil {
			respondError(c, err, "Transaction listing")
			return
		}
		resp := gin.H{
			"transactions": views,                       // Page of transactions
			"page":         page,                        // Current page
			"limit":        pageSize,                    // Page size
			"total":        total,                       // Total matching transactions
			"total_pages":  totalPages(total, pageSize), // Total pages
		}
		_ = utils.SetCache(ctx, rdb, cacheKey, resp, utils.CacheTTL) // Cache the page
		resp["cached"] = false
		c.JSON(http.StatusOK, resp)
	}
}

// DepositHandler credits cash to an owned account
func DepositHandler(engine *ledger.Engine, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		var req AmountRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		receipt, err := engine.Deposit(c.Request.Context(), ledger.DepositRequest{
			AccountID: req.AccountID,
			UserID:    userID,
			Amount:    req.Amount,
		})
		if err != nil {
			respondError(c, err, "Deposit")
			return
		}
		_ = utils.InvalidateUsers(c.Request.Context(), rdb, userID) // Invalidate account and history caches
		movementResponse(c, "Deposit successful", receipt, receipt.ToBalance)
	}
}

// WithdrawHandler pays cash out of an owned account
func WithdrawHandler(engine *ledger.Engine, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		var req AmountRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		receipt, err := engine.Withdraw(c.Request.Context(), ledger.WithdrawRequest{
			AccountID: req.AccountID,
			UserID:    userID,
			Amount:    req.Amount,
		})
		if err != nil {
			respondError(c, err, "Withdrawal")
			return
		}
		_ = utils.InvalidateUsers(c.Request.Context(), rdb, userID)
		movementResponse(c, "Withdrawal successful", receipt, receipt.FromBalance)
	}
}

// TransferHandler moves money from an owned account to any account of this bank
func TransferHandler(engine *ledger.Engine, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		var req TransferRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		ctx := c.Request.Context()
		receipt, err := engine.Transfer(ctx, ledger.TransferRequest{
			FromAccountID: req.FromAccountID,
			ToAccountID:   req.ToAccountID,
			UserID:        userID,
			Amount:        req.Amount,
			Reference:     req.Reference,
		})
		if err != nil {
			respondError(c, err, "Transfer")
			return
		}
		// Invalidate caches for both owners
		owners := []uint{userID}
		if to, err := engine.Owner(ctx, req.ToAccountID); err == nil && to != userID {
			owners = append(owners, to)
		}
		_ = utils.InvalidateUsers(ctx, rdb, owners...)
		movementResponse(c, "Transfer successful", receipt, receipt.FromBalance)
	}
}

// ExternalOutgoingHandler pays an IBAN at another bank from an owned account
func ExternalOutgoingHandler(engine *ledger.Engine, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		var req OutgoingPaymentRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		receipt, err := engine.ExternalOutgoing(c.Request.Context(), ledger.OutgoingRequest{
			FromAccountID: req.FromAccountID,
			UserID:        userID,
			RecipientName: req.RecipientName,
			RecipientIBAN: req.RecipientIBAN,
			Amount:        req.Amount,
			Reference:     req.Reference,
		})
		if err != nil {
			respondError(c, err, "External payment")
			return
		}
		_ = utils.InvalidateUsers(c.Request.Context(), rdb, userID)
		movementResponse(c, "Payment sent successfully", receipt, receipt.FromBalance)
	}
}

// ExternalIncomingHandler records a payment arriving from another bank. It runs behind the
// external API key, not a user session.
func ExternalIncomingHandler(engine *ledger.Engine, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IncomingPaymentRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		ctx := c.Request.Context()
		receipt, err := engine.ExternalIncoming(ctx, ledger.IncomingRequest{
			IBAN:       req.IBAN,
			SenderName: req.SenderName,
			SenderIBAN: req.SenderIBAN,
			Amount:     req.Amount,
			Reference:  req.Reference,
		})
		if err != nil {
			respondError(c, err, "Incoming payment")
			return
		}
		if owner, err := engine.Owner(ctx, *receipt.Transaction.ToAccountID); err == nil {
			_ = utils.InvalidateUsers(ctx, rdb, owner)
		}
		movementResponse(c, "Incoming payment recorded", receipt, receipt.ToBalance)
	}
}

// BalanceHandler returns the balance of an owned account
func BalanceHandler(engine *ledger.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := idParam(c, "account_id")
		if !ok {
			return
		}
		balance, err := engine.Balance(c.Request.Context(), id, userID)
		if err != nil {
			respondError(c, err, "Balance lookup")
			return
		}
		c.JSON(http.StatusOK, gin.H{"account_id": id, "balance": balance})
	}
}
