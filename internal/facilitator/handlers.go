package facilitator

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/satmeter/facilitator/internal/x402"
)

// Handler provides the HTTP surface of the facilitator.
type Handler struct {
	service *Service
}

// NewHandler creates a new facilitator handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the facilitator endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/supported", h.Supported)
	r.POST("/verify", h.Verify)
	r.POST("/settle", h.Settle)
	r.GET("/settlements", h.ListSettlements)
}

// Supported handles GET /supported.
func (h *Handler) Supported(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Supported())
}

// Verify handles POST /verify.
//
// 400 is reserved for requests missing required fields; an invalid payment in
// a well-formed request is a 200 with isValid:false.
func (h *Handler) Verify(c *gin.Context) {
	var req x402.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "paymentPayload and paymentRequirements are required",
		})
		return
	}
	resp := h.service.Verify(c.Request.Context(), &req)
	c.JSON(statusForReason(resp.InvalidReason), resp)
}

// Settle handles POST /settle.
func (h *Handler) Settle(c *gin.Context) {
	var req x402.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "paymentPayload and paymentRequirements are required",
		})
		return
	}
	resp := h.service.Settle(c.Request.Context(), &req)
	c.JSON(statusForReason(resp.ErrorReason), resp)
}

// statusForReason distinguishes payment verdicts from infrastructure
// failures: a rejected payment is a 200 with the typed body, a failure
// inside the facilitator or its stores is a 500 with the same body.
func statusForReason(reason string) int {
	switch reason {
	case x402.ReasonUnexpectedVerifyError,
		x402.ReasonUnexpectedSettleError,
		x402.ReasonUnexpectedUTXOValidationError:
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// ListSettlements handles GET /settlements. Returns the most recent settle
// attempts, newest first.
func (h *Handler) ListSettlements(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be an integer between 1 and 500",
			})
			return
		}
		limit = n
	}

	records, err := h.service.settlements.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if records == nil {
		records = []*SettlementRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"settlements": records, "count": len(records)})
}
