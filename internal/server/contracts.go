package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	contractdomain "github.com/smallbiznis/contractbilling/internal/contract/domain"
)

type createContractRequest struct {
	OrganizationID          string `json:"organization_id"`
	PlanTier                string `json:"plan_tier"`
	SeatLimit               int    `json:"seat_limit"`
	Package                 string `json:"package"`
	BillingCycle            string `json:"billing_cycle"`
	BillingDay              int    `json:"billing_day"`
	BillingMode             string `json:"billing_mode"`
	ProcessorSubscriptionID string `json:"processor_subscription_id"`
	OneTimeFee              int64  `json:"one_time_fee"`
	FirstInvoiceDiscount    int64  `json:"first_invoice_discount"`
	StartDate               string `json:"start_date"`
}

func (s *Server) CreateContract(c *gin.Context) {
	var req createContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startDate, err := parseOptionalDate(req.StartDate)
	if err != nil {
		AbortWithError(c, newValidationError("start_date", "invalid_start_date", "invalid start_date"))
		return
	}

	orgID := strings.TrimSpace(req.OrganizationID)
	if orgID == "" {
		if actor, ok := actorFromContext(c); ok && actor.OrgID != 0 {
			orgID = actor.OrgID.String()
		}
	}

	resp, err := s.contractSvc.Create(c.Request.Context(), contractdomain.CreateContractRequest{
		OrganizationID:          orgID,
		PlanTier:                strings.TrimSpace(req.PlanTier),
		SeatLimit:               req.SeatLimit,
		Package:                 strings.TrimSpace(req.Package),
		BillingCycle:            strings.TrimSpace(req.BillingCycle),
		BillingDay:              req.BillingDay,
		BillingMode:             strings.TrimSpace(req.BillingMode),
		ProcessorSubscriptionID: strings.TrimSpace(req.ProcessorSubscriptionID),
		OneTimeFee:              req.OneTimeFee,
		FirstInvoiceDiscount:    req.FirstInvoiceDiscount,
		StartDate:               startDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetContract(c *gin.Context) {
	resp, err := s.contractSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetContractFees(c *gin.Context) {
	resp, err := s.contractSvc.FeeBreakdown(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
