package api

import (
	"net/http" // HTTP status codes
	"strconv"  // String conversion
	"strings"  // String manipulation
	"time"     // Registration times

	"banking_system/internal/domain" // Domain models
	"banking_system/internal/store"  // Repositories
	"banking_system/internal/utils"  // Utility functions

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
)

// UserAdminResponse represents the user data returned to admin
type UserAdminResponse struct {
	ID               uint      `json:"id"`                 // User ID
	Username         string    `json:"username"`           // Username
	Email            string    `json:"email"`              // Email
	Role             string    `json:"role"`               // User role
	TwoFactorEnabled bool      `json:"two_factor_enabled"` // Two-factor confirmed
	CreatedAt        time.Time `json:"created_at"`         // Registration time
}

// cachedPage replays a cached admin listing when present
func cachedPage(c *gin.Context, rdb *redis.Client, cacheKey string) bool {
	var cached map[string]any
	found, err := utils.GetCache(c.Request.Context(), rdb, cacheKey, &cached)
	if err != nil || !found {
		return false
	}
	cached["cached"] = true // Indicate response is from cache
	c.JSON(http.StatusOK, cached)
	return true
}

// ListUsersHandler returns users page by page
func ListUsersHandler(users store.UserRepository, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, pageSize := pagination(c, "page_size") // Pagination parameters
		// Create a cache key based on pagination parameters
		cacheKey := utils.AdminCachePrefix + "users:page=" + strconv.Itoa(page) + ":size=" + strconv.Itoa(pageSize)
		if cachedPage(c, rdb, cacheKey) {
			return
		}
		list, total, err := users.List(c.Request.Context(), pageSize, (page-1)*pageSize)
		if err != nil {
			respondError(c, err, "User listing")
			return
		}
		// Map users to response format
		resp := make([]UserAdminResponse, len(list))
		for i, u := range list {
			resp[i] = UserAdminResponse{
				ID:               u.ID,               // User ID
				Username:         u.Username,         // Username
				Email:            u.Email,            // Email
				Role:             u.Role,             // User role
				TwoFactorEnabled: u.TwoFactorEnabled, // Two-factor confirmed
				CreatedAt:        u.CreatedAt,        // Registration time
			}
		}
		respData := gin.H{
			"users":       resp,                        // List of users
			"page":        page,                        // Current page
			"page_size":   pageSize,                    // Page size
			"total":       total,                       // Total number of users
			"total_pages": totalPages(total, pageSize), // Total pages
		}
		// Cache the response for future requests
		_ = utils.SetCache(c.Request.Context(), rdb, cacheKey, respData, utils.CacheTTL)
		respData["cached"] = false
		c.JSON(http.StatusOK, respData) // Return the response
	}
}

// ListAllAccountsHandler returns every account page by page
func ListAllAccountsHandler(accounts store.AccountRepository, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, pageSize := pagination(c, "page_size") // Pagination parameters
		cacheKey := utils.AdminCachePrefix + "accounts:page=" + strconv.Itoa(page) + ":size=" + strconv.Itoa(pageSize)
		if cachedPage(c, rdb, cacheKey) {
			return
		}
		list, total, err := accounts.List(c.Request.Context(), pageSize, (page-1)*pageSize)
		if err != nil {
			respondError(c, err, "Account listing")
			return
		}
		if list == nil {
			list = []domain.Account{} // Render an empty page as []
		}
		respData := gin.H{
			"accounts":    list,                        // List of accounts
			"page":        page,                        // Current page
			"page_size":   pageSize,                    // Page size
			"total":       total,                       // Total number of accounts
			"total_pages": totalPages(total, pageSize), // Total pages
		}
		_ = utils.SetCache(c.Request.Context(), rdb, cacheKey, respData, utils.CacheTTL)
		respData["cached"] = false
		c.JSON(http.StatusOK, respData)
	}
}

// ListTransactionsHandler returns all transactions, with optional filtering by user, type, or date
func ListTransactionsHandler(transactions store.TransactionRepository, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Build cache key from all query params
		var keyParts []string
		for _, k := range []string{"user_id", "type", "from", "to", "page", "page_size"} {
			keyParts = append(keyParts, k+"="+c.DefaultQuery(k, "")) // Append key-value pair
		}
		cacheKey := utils.AdminCachePrefix + "txs:" + strings.Join(keyParts, ":")
		if cachedPage(c, rdb, cacheKey) {
			return
		}

		f, page, pageSize, err := historyFilter(c, "type", "from", "to", "page_size")
		if err != nil {
			respondError(c, err, "Transaction listing")
			return
		}
		var (
			views []domain.TransactionView
			total int64
		)
		if raw := c.Query("user_id"); raw != "" {
			userID, convErr := strconv.ParseUint(raw, 10, 64)
			if convErr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user_id"})
				return
			}
			views, total, err = transactions.FindByUserID(c.Request.Context(), uint(userID), f) // Filter by user ID
		} else {
			views, total, err = transactions.List(c.Request.Context(), f)
		}
		if err != nil {
			respondError(c, err, "Transaction listing")
			return
		}
		if views == nil {
			views = []domain.TransactionView{}
		}
		respData := gin.H{
			"transactions": views,                       // List of transactions
			"page":         page,                        // Current page
			"page_size":    pageSize,                    // Page size
			"total":        total,                       // Total number of transactions
			"total_pages":  totalPages(total, pageSize), // Total pages
		}
		_ = utils.SetCache(c.Request.Context(), rdb, cacheKey, respData, utils.CacheTTL)
		respData["cached"] = false
		c.JSON(http.StatusOK, respData) // Return the response
	}
}
