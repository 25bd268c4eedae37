/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the settlement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Settlements:
    POST   /api/settlements/generate      Generate a settlement (claims inputs)
    POST   /api/settlements/preview       Dry-run computation, no writes
    GET    /api/settlements               List (filter by driver_id, status)
    GET    /api/settlements/{id}          Get with line items
    POST   /api/settlements/{id}/approve  Finalize payment
    POST   /api/settlements/{id}/reject   Void and release inputs

  Drivers:
    GET    /api/drivers                   List drivers
    POST   /api/drivers                   Create/update pay configuration
    GET    /api/drivers/{id}              Get driver
    GET    /api/drivers/{id}/advances     Advances with outstanding balances
    GET    /api/drivers/{id}/rules        Deduction rules

  Loads:
    GET    /api/loads                     List (filter by driver_id)
    POST   /api/loads                     Create/update a load

  Advances / Rules:
    POST   /api/advances                  Record a cash advance
    POST   /api/rules                     Create a deduction rule (JSON config)

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store:  Database access (back-office reads/writes)
  - Engine: The four settlement operations
  - Rules:  JSON rule config validation (factory)
  - validate: request DTO validation

ERROR HANDLING:
  Domain errors map to HTTP status via the settlement package predicates:
  - 400: IsClientError (validation, missing pay config, no eligible loads)
  - 404: IsNotFound
  - 409: IsConflict (claimed loads/advances, duplicate period, bad transition)
  - 500: everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/settlement"
	"github.com/warp/settlement-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Engine *settlement.Engine
	Rules  *factory.RuleFactory

	validate *validator.Validate

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store and engine.
func NewHandler(store *sqlite.Store, engine *settlement.Engine) *Handler {
	return &Handler{
		Store:    store,
		Engine:   engine,
		Rules:    factory.NewRuleFactory(),
		validate: validator.New(),
	}
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// GenerateSettlement creates a PENDING settlement, claiming its inputs.
// POST /api/settlements/generate
func (h *Handler) GenerateSettlement(w http.ResponseWriter, r *http.Request) {
	req, period, opts, ok := h.decodeGenerateRequest(w, r)
	if !ok {
		return
	}

	s, err := h.Engine.Generate(r.Context(), settlement.DriverID(req.DriverID), period, opts)
	if err != nil {
		writeDomainError(w, "Failed to generate settlement", err)
		return
	}

	writeJSON(w, http.StatusCreated, toSettlementDTO(s))
}

// PreviewSettlement runs the computation without persisting or claiming.
// POST /api/settlements/preview
func (h *Handler) PreviewSettlement(w http.ResponseWriter, r *http.Request) {
	req, period, opts, ok := h.decodeGenerateRequest(w, r)
	if !ok {
		return
	}

	s, err := h.Engine.Preview(r.Context(), settlement.DriverID(req.DriverID), period, opts)
	if err != nil {
		writeDomainError(w, "Failed to preview settlement", err)
		return
	}

	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

func (h *Handler) decodeGenerateRequest(w http.ResponseWriter, r *http.Request) (GenerateSettlementRequest, settlement.Period, settlement.GenerateOptions, bool) {
	var req GenerateSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return req, settlement.Period{}, settlement.GenerateOptions{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return req, settlement.Period{}, settlement.GenerateOptions{}, false
	}

	var period settlement.Period
	if req.PeriodStart != "" || req.PeriodEnd != "" {
		start, err1 := time.Parse("2006-01-02", req.PeriodStart)
		end, err2 := time.Parse("2006-01-02", req.PeriodEnd)
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "Invalid period dates (use YYYY-MM-DD)", nil)
			return req, period, settlement.GenerateOptions{}, false
		}
		// Period end is inclusive through the whole day.
		period = settlement.Period{
			Start: start.UTC(),
			End:   end.UTC().Add(24*time.Hour - time.Second),
		}
	}

	opts := settlement.GenerateOptions{
		SettlementNumber:     req.SettlementNumber,
		ForceIncludeNotReady: req.ForceIncludeNotReady,
		Notes:                req.Notes,
	}
	for _, id := range req.LoadIDs {
		opts.ExplicitLoadIDs = append(opts.ExplicitLoadIDs, settlement.LoadID(id))
	}
	return req, period, opts, true
}

// GetSettlement returns one settlement with its line items.
// GET /api/settlements/{id}
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	id := settlement.SettlementID(chi.URLParam(r, "id"))

	s, err := h.Store.GetSettlement(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get settlement", err)
		return
	}

	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

// ListSettlements returns settlements matching the query.
// GET /api/settlements?driver_id=&status=
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	q := settlement.SettlementQuery{
		DriverID: settlement.DriverID(r.URL.Query().Get("driver_id")),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		q.Statuses = []settlement.ApprovalStatus{settlement.ApprovalStatus(status)}
	}

	results, err := h.Store.FindSettlements(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list settlements", err)
		return
	}

	dtos := make([]SettlementDTO, len(results))
	for i := range results {
		dtos[i] = toSettlementDTO(&results[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": dtos})
}

// ApproveSettlement finalizes a pending settlement for payment.
// POST /api/settlements/{id}/approve
func (h *Handler) ApproveSettlement(w http.ResponseWriter, r *http.Request) {
	id := settlement.SettlementID(chi.URLParam(r, "id"))

	var req ApproveSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	s, err := h.Engine.Approve(r.Context(), id, req.ApproverID, req.PaymentMethod, req.PaymentReference)
	if err != nil {
		writeDomainError(w, "Failed to approve settlement", err)
		return
	}

	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

// RejectSettlement voids a pending settlement and releases its inputs.
// POST /api/settlements/{id}/reject
func (h *Handler) RejectSettlement(w http.ResponseWriter, r *http.Request) {
	id := settlement.SettlementID(chi.URLParam(r, "id"))

	var req RejectSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	s, err := h.Engine.Reject(r.Context(), id, req.ApproverID, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to reject settlement", err)
		return
	}

	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

// =============================================================================
// DRIVER HANDLERS
// =============================================================================

// ListDrivers returns all drivers.
// GET /api/drivers
func (h *Handler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.Store.ListDrivers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list drivers", err)
		return
	}

	dtos := make([]DriverDTO, len(drivers))
	for i, d := range drivers {
		dtos[i] = toDriverDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetDriver returns one driver.
// GET /api/drivers/{id}
func (h *Handler) GetDriver(w http.ResponseWriter, r *http.Request) {
	id := settlement.DriverID(chi.URLParam(r, "id"))

	d, err := h.Store.GetDriver(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get driver", err)
		return
	}

	writeJSON(w, http.StatusOK, toDriverDTO(*d))
}

// UpsertDriver creates or updates a driver's pay configuration.
// POST /api/drivers
func (h *Handler) UpsertDriver(w http.ResponseWriter, r *http.Request) {
	var req UpsertDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	d := settlement.Driver{
		ID:      settlement.DriverID(req.ID),
		Name:    req.Name,
		PayType: settlement.PayType(req.PayType),
	}
	if req.PayRate != "" {
		rate, err := decimal.NewFromString(req.PayRate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid pay_rate", err)
			return
		}
		d.PayRate = &rate
	}

	if err := h.Store.SaveDriver(r.Context(), d); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save driver", err)
		return
	}

	writeJSON(w, http.StatusCreated, toDriverDTO(d))
}

// ListDriverAdvances returns a driver's advances with outstanding balances.
// GET /api/drivers/{id}/advances
func (h *Handler) ListDriverAdvances(w http.ResponseWriter, r *http.Request) {
	id := settlement.DriverID(chi.URLParam(r, "id"))

	advances, err := h.Store.ListAdvances(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list advances", err)
		return
	}

	dtos := make([]AdvanceDTO, len(advances))
	for i, a := range advances {
		dtos[i] = toAdvanceDTO(a)
	}
	writeJSON(w, http.StatusOK, map[string]any{"advances": dtos})
}

// ListDriverRules returns a driver's deduction rules.
// GET /api/drivers/{id}/rules
func (h *Handler) ListDriverRules(w http.ResponseWriter, r *http.Request) {
	id := settlement.DriverID(chi.URLParam(r, "id"))

	rules, err := h.Store.ListRules(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}

	dtos := make([]factory.RuleJSON, len(rules))
	for i, rule := range rules {
		dtos[i] = h.Rules.ToJSON(rule)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": dtos})
}

// =============================================================================
// LOAD HANDLERS
// =============================================================================

// ListLoads returns loads, optionally filtered by driver.
// GET /api/loads?driver_id=
func (h *Handler) ListLoads(w http.ResponseWriter, r *http.Request) {
	driverID := settlement.DriverID(r.URL.Query().Get("driver_id"))

	loads, err := h.Store.ListLoads(r.Context(), driverID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list loads", err)
		return
	}

	dtos := make([]LoadDTO, len(loads))
	for i, l := range loads {
		dtos[i] = toLoadDTO(l)
	}
	writeJSON(w, http.StatusOK, map[string]any{"loads": dtos})
}

// UpsertLoad creates or updates a load record.
// POST /api/loads
func (h *Handler) UpsertLoad(w http.ResponseWriter, r *http.Request) {
	var req UpsertLoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	l := settlement.Load{
		ID:                 settlement.LoadID(req.ID),
		DriverID:           settlement.DriverID(req.DriverID),
		LoadNumber:         req.LoadNumber,
		Status:             settlement.LoadStatus(req.Status),
		ReadyForSettlement: req.ReadyForSettlement,
	}
	if l.ID == "" {
		l.ID = settlement.LoadID(uuid.NewString())
	}

	var err error
	if l.Revenue, err = parseDecimalField(w, "revenue", req.Revenue); err != nil {
		return
	}
	if l.TotalMiles, err = parseDecimalField(w, "total_miles", req.TotalMiles); err != nil {
		return
	}
	if l.LoadedMiles, err = parseDecimalField(w, "loaded_miles", req.LoadedMiles); err != nil {
		return
	}
	if l.EmptyMiles, err = parseDecimalField(w, "empty_miles", req.EmptyMiles); err != nil {
		return
	}
	if req.DriverPay != "" {
		pay, err := decimal.NewFromString(req.DriverPay)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid driver_pay", err)
			return
		}
		l.DriverPay = &pay
	}
	if req.PickupAt != "" {
		t, _ := time.Parse("2006-01-02", req.PickupAt)
		l.PickupAt = &t
	}
	if req.DeliveredAt != "" {
		t, _ := time.Parse("2006-01-02", req.DeliveredAt)
		l.DeliveredAt = &t
	}

	if err := h.Store.SaveLoad(r.Context(), l); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save load", err)
		return
	}

	writeJSON(w, http.StatusCreated, toLoadDTO(l))
}

// =============================================================================
// ADVANCE / RULE HANDLERS
// =============================================================================

// CreateAdvance records a cash advance for a driver.
// POST /api/advances
func (h *Handler) CreateAdvance(w http.ResponseWriter, r *http.Request) {
	var req CreateAdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		writeError(w, http.StatusBadRequest, "Invalid amount (must be a positive decimal)", err)
		return
	}

	a := settlement.DriverAdvance{
		ID:             settlement.AdvanceID(req.ID),
		DriverID:       settlement.DriverID(req.DriverID),
		Amount:         amount,
		AmountRepaid:   decimal.Zero,
		ApprovalStatus: settlement.ApprovalPending,
		RequestedAt:    time.Now().UTC(),
		Notes:          req.Notes,
	}
	if a.ID == "" {
		a.ID = settlement.AdvanceID(uuid.NewString())
	}
	if req.ApprovalStatus != "" {
		a.ApprovalStatus = settlement.ApprovalStatus(req.ApprovalStatus)
	}
	if req.RequestedAt != "" {
		t, _ := time.Parse("2006-01-02", req.RequestedAt)
		a.RequestedAt = t
	}

	if err := h.Store.SaveAdvance(r.Context(), a); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save advance", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAdvanceDTO(a))
}

// CreateRule validates a JSON deduction rule config and stores it.
// POST /api/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	rule, err := h.Rules.ParseRule(string(body))
	if err != nil {
		writeDomainError(w, "Invalid rule config", err)
		return
	}

	if err := h.Store.SaveRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rule", err)
		return
	}

	writeJSON(w, http.StatusCreated, h.Rules.ToJSON(rule))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case settlement.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case settlement.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case settlement.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func parseDecimalField(w http.ResponseWriter, name, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name, err)
		return decimal.Zero, err
	}
	return d, nil
}
