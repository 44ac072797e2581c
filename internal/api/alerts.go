package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fundwatch/internal/models"
)

type alertPayload struct {
	FundCode      string   `json:"fundCode"`
	FundName      string   `json:"fundName"`
	RiseThreshold *float64 `json:"riseThreshold"`
	FallThreshold *float64 `json:"fallThreshold"`
	TargetNavHigh *float64 `json:"targetNavHigh"`
	TargetNavLow  *float64 `json:"targetNavLow"`
	Enabled       *bool    `json:"enabled"`
}

func (p alertPayload) toRule(ownerID string) *models.AlertRule {
	return &models.AlertRule{
		OwnerID:        ownerID,
		InstrumentCode: p.FundCode,
		InstrumentName: p.FundName,
		RiseThreshold:  p.RiseThreshold,
		FallThreshold:  p.FallThreshold,
		TargetHigh:     p.TargetNavHigh,
		TargetLow:      p.TargetNavLow,
		Enabled:        p.Enabled == nil || *p.Enabled,
	}
}

func (h *Handler) listAlerts(c *gin.Context) {
	rules, err := h.deps.Rules.ListRules(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	if rules == nil {
		rules = []models.AlertRule{}
	}
	c.JSON(http.StatusOK, rules)
}

func (h *Handler) getAlert(c *gin.Context) {
	rule, err := h.deps.Rules.GetRule(c.Request.Context(), userID(c), c.Param("fundCode"))
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// upsertAlert creates or replaces the caller's rule for a fund and clears
// its cooldown.
func (h *Handler) upsertAlert(c *gin.Context) {
	var payload alertPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	rule := payload.toRule(userID(c))
	if err := h.deps.Rules.UpsertRule(c.Request.Context(), rule); err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	h.audit(h.deps.Audit.LogRuleSaved(c.Request.Context(), rule))
	c.JSON(http.StatusOK, rule)
}

func (h *Handler) toggleAlert(c *gin.Context) {
	rule, err := h.deps.Rules.ToggleRule(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	h.audit(h.deps.Audit.LogRuleToggled(c.Request.Context(), rule))
	c.JSON(http.StatusOK, rule)
}
