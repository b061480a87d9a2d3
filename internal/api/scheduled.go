package api

import (
	"net/http" // HTTP status codes
	"time"     // Start dates

	"banking_system/internal/domain"   // Frequencies
	"banking_system/internal/schedule" // Scheduled payments

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Fixed-point amounts
)

// ScheduledPaymentRequest creates a scheduled bill
type ScheduledPaymentRequest struct {
	AccountID uint             `json:"account_id" binding:"required"`                                                    // Owned source account
	PayeeName string           `json:"payee_name" binding:"required,max=255"`                                            // Recipient name
	PayeeIBAN string           `json:"payee_iban" binding:"required,iban"`                                               // Recipient IBAN
	Amount    decimal.Decimal  `json:"amount"`                                                                           // Positive, at most two decimals
	Frequency domain.Frequency `json:"frequency" binding:"required,oneof=once weekly biweekly monthly quarterly yearly"` // Recurrence
	StartDate string           `json:"start_date" binding:"required"`                                                    // YYYY-MM-DD or RFC 3339
	Notes     string           `json:"notes" binding:"max=500"`                                                          // Optional note
}

// ListScheduledPaymentsHandler returns the caller's scheduled payments
func ListScheduledPaymentsHandler(payments *schedule.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		list, err := payments.List(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err, "Scheduled payment listing")
			return
		}
		c.JSON(http.StatusOK, gin.H{"scheduled_payments": list})
	}
}

// CreateScheduledPaymentHandler schedules a bill
func CreateScheduledPaymentHandler(payments *schedule.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		var req ScheduledPaymentRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		start, err := time.Parse(time.DateOnly, req.StartDate)
		if err != nil {
			if start, err = time.Parse(time.RFC3339, req.StartDate); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start_date"})
				return
			}
		}
		p, err := payments.Create(c.Request.Context(), userID, schedule.CreateRequest{
			AccountID: req.AccountID,
			PayeeName: req.PayeeName,
			PayeeIBAN: req.PayeeIBAN,
			Amount:    req.Amount,
			Frequency: req.Frequency,
			StartDate: start,
			Notes:     req.Notes,
		})
		if err != nil {
			respondError(c, err, "Scheduled payment creation")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "Scheduled payment created", "scheduled_payment": p})
	}
}

// CancelScheduledPaymentHandler deletes one of the caller's scheduled payments
func CancelScheduledPaymentHandler(payments *schedule.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		p, err := payments.Cancel(c.Request.Context(), id, userID)
		if err != nil {
			respondError(c, err, "Scheduled payment cancellation")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Scheduled payment cancelled", "scheduled_payment": p})
	}
}
