package api

import (
	"fmt"      // Error formatting
	"net/http" // HTTP status codes
	"strconv"  // String conversion
	"strings"  // String manipulation
	"time"     // Date filters

	"banking_system/internal/domain"     // Transaction types
	"banking_system/internal/identifier" // IBAN validation
	"banking_system/internal/middleware" // Authenticated user
	"banking_system/internal/store"      // Listing filters

	"github.com/gin-gonic/gin"               // Gin web framework
	"github.com/gin-gonic/gin/binding"       // Binding engine
	"github.com/go-playground/validator/v10" // Struct validation
)

// Page size limits
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// RegisterValidators adds the custom binding tags: iban
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("api: unexpected validator engine %T", binding.Validator.Engine())
	}
	return v.RegisterValidation("iban", func(fl validator.FieldLevel) bool {
		return identifier.ValidIBAN(fl.Field().String())
	})
}

// currentUser returns the session user or writes 401
func currentUser(c *gin.Context) (uint, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	}
	return userID, ok
}

// idParam parses a positive numeric path parameter or writes 400
func idParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return uint(v), true
}

// pagination reads page and the page size from sizeParam, clamping to maxPageSize
func pagination(c *gin.Context, sizeParam string) (page, pageSize int) {
	page, pageSize = 1, defaultPageSize // Defaults
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		page = v // Set page if valid
	}
	if v, err := strconv.Atoi(c.Query(sizeParam)); err == nil && v > 0 {
		pageSize = min(v, maxPageSize) // Set page size within limits
	}
	return page, pageSize
}

// totalPages is the number of pages needed for total rows
func totalPages(total int64, pageSize int) int {
	return (int(total) + pageSize - 1) / pageSize
}

// historyFilter builds a transaction filter from type, startDate, endDate and paging parameters.
// Date-only bounds are inclusive of the whole day.
func historyFilter(c *gin.Context, typeParam, fromParam, toParam, sizeParam string) (store.Filter, int, int, error) {
	page, pageSize := pagination(c, sizeParam)
	f := store.Filter{Limit: pageSize, Offset: (page - 1) * pageSize}
	if t := strings.TrimSpace(c.Query(typeParam)); t != "" {
		f.Type = domain.TransactionType(t)
		if !f.Type.Valid() {
			return f, 0, 0, fmt.Errorf("%w: unknown transaction type %q", domain.ErrInvalidOperation, t)
		}
	}
	var err error
	if f.From, err = parseBound(c.Query(fromParam), false); err != nil {
		return f, 0, 0, err
	}
	if f.To, err = parseBound(c.Query(toParam), true); err != nil {
		return f, 0, 0, err
	}
	return f, page, pageSize, nil
}

func parseBound(raw string, end bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q", domain.ErrInvalidOperation, raw)
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
