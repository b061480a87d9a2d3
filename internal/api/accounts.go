package api

import (
	"net/http" // HTTP status codes
	"strconv"  // String conversion

	"banking_system/internal/domain" // Domain models
	"banking_system/internal/ledger" // Money-movement engine
	"banking_system/internal/utils"  // Cache helpers

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
)

// CreateAccountRequest opens an account; the type defaults to checking
type CreateAccountRequest struct {
	AccountType domain.AccountType `json:"account_type"` // checking, savings or business
}

// CloseAccountRequest names the account receiving the remaining balance
type CloseAccountRequest struct {
	TransferAccountID *uint `json:"transfer_account_id"` // Required when the balance is positive
}

// ListAccountsHandler returns the caller's accounts
func ListAccountsHandler(engine *ledger.Engine, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		cacheKey := utils.AccountsCacheKey(userID) // Cache key for the account list
		var cached []domain.Account
		// If found in cache, return it
		if found, err := utils.GetCache(ctx, rdb, cacheKey, &cached); err == nil && found {
			c.JSON(http.StatusOK, gin.H{"accounts": cached, "cached": true})
			return
		}
		accounts, err := engine.Accounts(ctx, userID)
		if err != nil {
			respondError(c, err, "Account listing")
			return
		}
		_ = utils.SetCache(ctx, rdb, cacheKey, accounts, utils.CacheTTL) // Cache the list
		c.JSON(http.StatusOK, gin.H{"accounts": accounts, "cached": false})
	}
}

// CreateAccountHandler opens an account for the caller
func CreateAccountHandler(engine *ledger.Engine, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		var req CreateAccountRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
		}
		acc, err := engine.OpenAccount(c.Request.Context(), userID, req.AccountType)
		if err != nil {
			respondError(c, err, "Account creation")
			return
		}
		_ = utils.InvalidateUsers(c.Request.Context(), rdb, userID) // Invalidate account caches
		c.JSON(http.StatusCreated, gin.H{"message": "Account created", "account": acc})
	}
}

// GetAccountHandler returns one owned account
func GetAccountHandler(engine *ledger.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		acc, err := engine.Account(c.Request.Context(), id, userID)
		if err != nil {
			respondError(c, err, "Account lookup")
			return
		}
		c.JSON(http.StatusOK, gin.H{"account": acc})
	}
}

// DeleteAccountHandler closes an owned account, sweeping its balance to transfer_account_id
// given in the body or the query string
func DeleteAccountHandler(engine *ledger.Engine, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req CloseAccountRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
		}
		if req.TransferAccountID == nil {
			if q := c.Query("transfer_account_id"); q != "" {
				v, err := strconv.ParseUint(q, 10, 64)
				if err != nil || v == 0 {
					c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transfer_account_id"})
					return
				}
				target := uint(v)
				req.TransferAccountID = &target
			}
		}

		closure, err := engine.CloseAccount(c.Request.Context(), ledger.CloseRequest{
			AccountID:         id,
			UserID:            userID,
			TransferAccountID: req.TransferAccountID,
		})
		if err != nil {
			respondError(c, err, "Account deletion")
			return
		}
		_ = utils.InvalidateUsers(c.Request.Context(), rdb, userID)
		logrus.WithFields(logrus.Fields{
			"user_id":     userID,
			"account_id":  id,
			"transferred": closure.Transferred.StringFixed(2),
		}).Info("Account deleted")
		c.JSON(http.StatusOK, gin.H{"message": "Account deleted successfully", "closure": closure})
	}
}

// AccountTransactionsHandler returns the log of one owned account
func AccountTransactionsHandler(engine *ledger.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		f, page, pageSize, err := historyFilter(c, "type", "startDate", "endDate", "limit")
		if err != nil {
			respondError(c, err, "Transaction listing")
			return
		}
		views, total, err := engine.AccountHistory(c.Request.Context(), id, userID, f)
		if err != nil {
			respondError(c, err, "Transaction listing")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"transactions": views,                       // Page of transactions
			"page":         page,                        // Current page
			"limit":        pageSize,                    // Page size
			"total":        total,                       // Total matching transactions
			"total_pages":  totalPages(total, pageSize), // Total pages
		})
	}
}
