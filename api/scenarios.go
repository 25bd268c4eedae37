/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	fleet data for testing and demos. Each scenario creates drivers, loads,
	advances, and deduction rules that demonstrate specific settlement
	features.

AVAILABLE SCENARIOS:

	company-driver:   Per-mile driver with recurring deductions and an advance
	owner-operator:   Percentage-of-revenue driver with escrow-style deductions
	manual-overrides: Per-load driver with manual pay overrides and
	                  not-yet-ready loads

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create drivers with pay configurations
 3. Create delivered loads across the current month
 4. Add approved advances and active deduction rules

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "company-driver"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: The endpoints the seeded data feeds into
  - factory/rule.go: Rule JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "company-driver",
		Name:        "Company Driver",
		Description: "Per-mile driver with recurring deductions and an outstanding advance",
	},
	{
		ID:          "owner-operator",
		Name:        "Owner Operator",
		Description: "Percentage-of-revenue driver with fixed weekly charges",
	},
	{
		ID:          "manual-overrides",
		Name:        "Manual Overrides",
		Description: "Per-load driver where some loads carry negotiated flat pay",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "company-driver":
		err = h.loadCompanyDriverScenario(ctx)
	case "owner-operator":
		err = h.loadOwnerOperatorScenario(ctx)
	case "manual-overrides":
		err = h.loadManualOverridesScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadCompanyDriverScenario(ctx context.Context) error {
	rate := decimal.NewFromFloat(0.55)
	driver := settlement.Driver{
		ID:      "drv-miles",
		Name:    "Marcus Webb",
		PayType: settlement.PayPerMile,
		PayRate: &rate,
	}
	if err := h.Store.SaveDriver(ctx, driver); err != nil {
		return err
	}

	// A week of delivered loads in the current month
	base := startOfMonth(time.Now().UTC())
	miles := []int64{480, 520, 610, 390}
	for i, m := range miles {
		delivered := base.AddDate(0, 0, 2+i*2)
		load := settlement.Load{
			ID:                 settlement.LoadID(fmt.Sprintf("load-cd-%d", i+1)),
			DriverID:           driver.ID,
			LoadNumber:         fmt.Sprintf("LD-10%d", i+1),
			Status:             settlement.LoadDelivered,
			Revenue:            decimal.NewFromInt(m * 3),
			TotalMiles:         decimal.NewFromInt(m),
			DeliveredAt:        &delivered,
			ReadyForSettlement: true,
		}
		if err := h.Store.SaveLoad(ctx, load); err != nil {
			return err
		}
	}

	advance := settlement.DriverAdvance{
		ID:             "adv-cd-1",
		DriverID:       driver.ID,
		Amount:         decimal.NewFromInt(300),
		AmountRepaid:   decimal.Zero,
		ApprovalStatus: settlement.ApprovalApproved,
		RequestedAt:    base.AddDate(0, 0, 1),
		Notes:          "Fuel card top-up",
	}
	if err := h.Store.SaveAdvance(ctx, advance); err != nil {
		return err
	}

	insurance := decimal.NewFromInt(45)
	rules := []settlement.DeductionRule{
		{
			ID:       "rule-cd-insurance",
			DriverID: driver.ID,
			Name:     "Occupational insurance",
			Kind:     settlement.DeductionFixed,
			Amount:   insurance,
			IsActive: true,
		},
		{
			ID:          "rule-cd-trailer",
			DriverID:    driver.ID,
			Name:        "Trailer maintenance",
			Kind:        settlement.DeductionPerMile,
			PerMileRate: decimal.NewFromFloat(0.02),
			IsActive:    true,
		},
	}
	for _, rule := range rules {
		if err := h.Store.SaveRule(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadOwnerOperatorScenario(ctx context.Context) error {
	rate := decimal.NewFromInt(72)
	driver := settlement.Driver{
		ID:      "drv-percent",
		Name:    "Elena Vasquez",
		PayType: settlement.PayPercentage,
		PayRate: &rate,
	}
	if err := h.Store.SaveDriver(ctx, driver); err != nil {
		return err
	}

	base := startOfMonth(time.Now().UTC())
	revenues := []int64{2400, 3100, 1850}
	statuses := []settlement.LoadStatus{
		settlement.LoadInvoiced, settlement.LoadPaid, settlement.LoadDelivered,
	}
	for i, rev := range revenues {
		delivered := base.AddDate(0, 0, 3+i*3)
		load := settlement.Load{
			ID:                 settlement.LoadID(fmt.Sprintf("load-oo-%d", i+1)),
			DriverID:           driver.ID,
			LoadNumber:         fmt.Sprintf("LD-20%d", i+1),
			Status:             statuses[i],
			Revenue:            decimal.NewFromInt(rev),
			TotalMiles:         decimal.NewFromInt(rev / 3),
			DeliveredAt:        &delivered,
			ReadyForSettlement: statuses[i] == settlement.LoadDelivered,
		}
		if err := h.Store.SaveLoad(ctx, load); err != nil {
			return err
		}
	}

	minGross := decimal.NewFromInt(1000)
	maxEscrow := decimal.NewFromInt(250)
	rule := settlement.DeductionRule{
		ID:          "rule-oo-escrow",
		DriverID:    driver.ID,
		Name:        "Maintenance escrow",
		Kind:        settlement.DeductionPercentage,
		Percentage:  decimal.NewFromInt(5),
		MinGrossPay: &minGross,
		MaxAmount:   &maxEscrow,
		IsActive:    true,
	}
	return h.Store.SaveRule(ctx, rule)
}

func (h *Handler) loadManualOverridesScenario(ctx context.Context) error {
	rate := decimal.NewFromInt(350)
	driver := settlement.Driver{
		ID:      "drv-flat",
		Name:    "Dmitri Kolov",
		PayType: settlement.PayPerLoad,
		PayRate: &rate,
	}
	if err := h.Store.SaveDriver(ctx, driver); err != nil {
		return err
	}

	base := startOfMonth(time.Now().UTC())
	override := decimal.NewFromInt(500)

	d1 := base.AddDate(0, 0, 4)
	loads := []settlement.Load{
		{
			ID:                 "load-mo-1",
			DriverID:           driver.ID,
			LoadNumber:         "LD-301",
			Status:             settlement.LoadDelivered,
			Revenue:            decimal.NewFromInt(900),
			TotalMiles:         decimal.NewFromInt(240),
			DeliveredAt:        &d1,
			ReadyForSettlement: true,
		},
		{
			ID:         "load-mo-2",
			DriverID:   driver.ID,
			LoadNumber: "LD-302",
			Status:     settlement.LoadDelivered,
			Revenue:    decimal.NewFromInt(1400),
			TotalMiles: decimal.NewFromInt(410),
			// Negotiated flat pay wins over the per-load rate
			DriverPay:          &override,
			DeliveredAt:        timePtr(base.AddDate(0, 0, 6)),
			ReadyForSettlement: true,
		},
		{
			ID:         "load-mo-3",
			DriverID:   driver.ID,
			LoadNumber: "LD-303",
			Status:     settlement.LoadDelivered,
			Revenue:    decimal.NewFromInt(760),
			TotalMiles: decimal.NewFromInt(190),
			// Accounting has not signed this one off yet
			DeliveredAt:        timePtr(base.AddDate(0, 0, 8)),
			ReadyForSettlement: false,
		},
	}
	for _, l := range loads {
		if err := h.Store.SaveLoad(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func timePtr(t time.Time) *time.Time { return &t }
