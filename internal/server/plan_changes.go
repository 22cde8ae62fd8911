package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	planchangedomain "github.com/smallbiznis/contractbilling/internal/planchange/domain"
)

type planChangeRequest struct {
	PlanTier      string   `json:"plan_tier"`
	SeatLimit     int      `json:"seat_limit"`
	Packages      []string `json:"packages"`
	OneTimeFee    int64    `json:"one_time_fee"`
	EffectiveDate string   `json:"effective_date"`
}

func (s *Server) SubmitPlanChange(c *gin.Context) {
	req, ok := s.bindPlanChange(c)
	if !ok {
		return
	}

	resp, err := s.planChangeSvc.SubmitChange(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusAccepted
	if resp.Applied {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": resp})
}

func (s *Server) PreviewPlanChange(c *gin.Context) {
	req, ok := s.bindPlanChange(c)
	if !ok {
		return
	}

	resp, err := s.planChangeSvc.Preview(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPendingPlanChange(c *gin.Context) {
	resp, err := s.planChangeSvc.GetPending(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPlanChanges(c *gin.Context) {
	items, err := s.planChangeSvc.ListChanges(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if items == nil {
		items = []planchangedomain.PlanChangeRequest{}
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) bindPlanChange(c *gin.Context) (planchangedomain.SubmitChangeRequest, bool) {
	var body planChangeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return planchangedomain.SubmitChangeRequest{}, false
	}

	effectiveDate, err := parseOptionalDate(body.EffectiveDate)
	if err != nil {
		AbortWithError(c, newValidationError("effective_date", "invalid_effective_date", "invalid effective_date"))
		return planchangedomain.SubmitChangeRequest{}, false
	}

	actor, _ := actorFromContext(c)
	return planchangedomain.SubmitChangeRequest{
		ContractID:    strings.TrimSpace(c.Param("id")),
		PlanTier:      strings.TrimSpace(body.PlanTier),
		SeatLimit:     body.SeatLimit,
		Packages:      body.Packages,
		OneTimeFee:    body.OneTimeFee,
		EffectiveDate: effectiveDate,
		RequestedBy:   actor.subject(),
	}, true
}
