package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/settlement"
	"github.com/warp/settlement-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := settlement.NewEngine(store, nil)
	return api.NewRouter(api.NewHandler(store, engine))
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func seedFleet(t *testing.T, router http.Handler) {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/api/drivers", map[string]any{
		"id": "drv-1", "name": "Marcus Webb",
		"pay_type": "PER_MILE", "pay_rate": "0.50",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, l := range []map[string]any{
		{"id": "l1", "load_number": "LD-101", "delivered_at": "2026-03-05", "total_miles": "500"},
		{"id": "l2", "load_number": "LD-102", "delivered_at": "2026-03-12", "total_miles": "500"},
	} {
		l["driver_id"] = "drv-1"
		l["status"] = "DELIVERED"
		l["revenue"] = "1500"
		l["ready_for_settlement"] = true
		rec = doJSON(t, router, http.MethodPost, "/api/loads", l)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/advances", map[string]any{
		"id": "adv-1", "driver_id": "drv-1", "amount": "300",
		"approval_status": "APPROVED", "requested_at": "2026-03-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/api/rules", map[string]any{
		"id": "rule-1", "driver_id": "drv-1", "name": "Insurance",
		"kind": "FIXED", "amount": "45",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

var generateMarch = map[string]any{
	"driver_id":    "drv-1",
	"period_start": "2026-03-01",
	"period_end":   "2026-03-31",
}

// =============================================================================
// SETTLEMENT LIFECYCLE
// =============================================================================

func TestAPI_GenerateSettlement_FullFlow(t *testing.T) {
	// GIVEN: A per-mile driver with two loads, a rule and an advance
	// WHEN: A settlement is generated for March, fetched, and approved
	// THEN: Each step returns the expected totals and status

	router := newTestRouter(t)
	seedFleet(t, router)

	// Generate
	rec := doJSON(t, router, http.MethodPost, "/api/settlements/generate", generateMarch)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	s := decode[api.SettlementDTO](t, rec)
	assert.Equal(t, "500", s.GrossPay) // 1000 mi * 0.50
	assert.Equal(t, "45", s.TotalDeductions)
	assert.Equal(t, "300", s.TotalAdvanceRepayment)
	assert.Equal(t, "155", s.NetPay)
	assert.Equal(t, "PENDING", s.ApprovalStatus)
	assert.Len(t, s.LineItems, 4)

	// Fetch
	rec = doJSON(t, router, http.MethodGet, "/api/settlements/"+s.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[api.SettlementDTO](t, rec)
	assert.Equal(t, s.SettlementNumber, got.SettlementNumber)

	// Approve
	rec = doJSON(t, router, http.MethodPost, "/api/settlements/"+s.ID+"/approve", map[string]any{
		"approver_id": "mgr-1", "payment_method": "ACH", "payment_reference": "ach-42",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[api.SettlementDTO](t, rec)
	assert.Equal(t, "APPROVED", approved.ApprovalStatus)
	require.NotNil(t, approved.PaymentMethod)
	assert.Equal(t, "ACH", *approved.PaymentMethod)

	// The advance is now fully repaid
	rec = doJSON(t, router, http.MethodGet, "/api/drivers/drv-1/advances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	advances := decode[map[string][]api.AdvanceDTO](t, rec)["advances"]
	require.Len(t, advances, 1)
	assert.Equal(t, "300", advances[0].AmountRepaid)
	assert.Equal(t, "0", advances[0].Outstanding)
	assert.NotNil(t, advances[0].PaidAt)
}

func TestAPI_PreviewSettlement_NoClaims(t *testing.T) {
	// GIVEN: Seeded fleet data
	// WHEN: Previewing, then listing settlements and loads
	// THEN: The preview returns totals but nothing is persisted or claimed

	router := newTestRouter(t)
	seedFleet(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/settlements/preview", generateMarch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s := decode[api.SettlementDTO](t, rec)
	assert.Equal(t, "500", s.GrossPay)
	assert.Empty(t, s.ID)

	rec = doJSON(t, router, http.MethodGet, "/api/settlements?driver_id=drv-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]api.SettlementDTO](t, rec)["settlements"]
	assert.Empty(t, list)

	rec = doJSON(t, router, http.MethodGet, "/api/loads?driver_id=drv-1", nil)
	loads := decode[map[string][]api.LoadDTO](t, rec)["loads"]
	for _, l := range loads {
		assert.Nil(t, l.SettlementID)
	}
}

func TestAPI_GenerateSettlement_DuplicatePeriod_Conflict(t *testing.T) {
	// GIVEN: A settlement already generated for March
	// WHEN: Generating for the same period again
	// THEN: 409 Conflict

	router := newTestRouter(t)
	seedFleet(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/settlements/generate", generateMarch)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/settlements/generate", generateMarch)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestAPI_GenerateSettlement_NoLoads_BadRequest(t *testing.T) {
	// GIVEN: A driver with no loads
	// WHEN: Generating
	// THEN: 400 with the no-eligible-loads message

	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/drivers", map[string]any{
		"id": "drv-empty", "name": "No Loads", "pay_type": "PER_MILE", "pay_rate": "0.50",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/settlements/generate", map[string]any{
		"driver_id": "drv-empty", "period_start": "2026-03-01", "period_end": "2026-03-31",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_GenerateSettlement_MissingDriverID_BadRequest(t *testing.T) {
	// GIVEN: A generate request without driver_id
	// WHEN: Posted
	// THEN: 400 from request validation

	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/settlements/generate", map[string]any{
		"period_start": "2026-03-01", "period_end": "2026-03-31",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_GetSettlement_NotFound(t *testing.T) {
	// GIVEN: No settlements
	// WHEN: Fetching an unknown id
	// THEN: 404

	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/settlements/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_RejectSettlement_ReleasesLoads(t *testing.T) {
	// GIVEN: A generated settlement
	// WHEN: Rejected with a reason
	// THEN: 200, status REJECTED, and the loads are free again

	router := newTestRouter(t)
	seedFleet(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/settlements/generate", generateMarch)
	require.Equal(t, http.StatusCreated, rec.Code)
	s := decode[api.SettlementDTO](t, rec)

	rec = doJSON(t, router, http.MethodPost, "/api/settlements/"+s.ID+"/reject", map[string]any{
		"approver_id": "mgr-1", "reason": "Mileage dispute on LD-101",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rejected := decode[api.SettlementDTO](t, rec)
	assert.Equal(t, "REJECTED", rejected.ApprovalStatus)
	require.NotNil(t, rejected.RejectedBy)
	assert.Equal(t, "mgr-1", *rejected.RejectedBy)
	assert.Nil(t, rejected.ApprovedBy)

	rec = doJSON(t, router, http.MethodGet, "/api/loads?driver_id=drv-1", nil)
	loads := decode[map[string][]api.LoadDTO](t, rec)["loads"]
	require.NotEmpty(t, loads)
	for _, l := range loads {
		assert.Nil(t, l.SettlementID)
	}

	// Approving a rejected settlement is a conflict
	rec = doJSON(t, router, http.MethodPost, "/api/settlements/"+s.ID+"/approve", map[string]any{
		"approver_id": "mgr-1", "payment_method": "ACH",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_GenerateSettlement_ExplicitLoadIDs(t *testing.T) {
	// GIVEN: Two loads
	// WHEN: Generating with one explicit load id and no period
	// THEN: Only that load is settled

	router := newTestRouter(t)
	seedFleet(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/settlements/generate", map[string]any{
		"driver_id": "drv-1",
		"load_ids":  []string{"l1"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	s := decode[api.SettlementDTO](t, rec)
	assert.Equal(t, "250", s.GrossPay) // 500 mi * 0.50
}

// =============================================================================
// RECORD MANAGEMENT
// =============================================================================

func TestAPI_UpsertDriver_Validation(t *testing.T) {
	// GIVEN: A driver payload with an unknown pay type
	// WHEN: Posted
	// THEN: 400

	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/drivers", map[string]any{
		"id": "drv-1", "name": "Bad", "pay_type": "SALARY",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_GetDriver_RoundTrip(t *testing.T) {
	// GIVEN: A created driver
	// WHEN: Fetched by id
	// THEN: Pay configuration comes back as decimal strings

	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/drivers", map[string]any{
		"id": "drv-1", "name": "Elena Vasquez", "pay_type": "PERCENTAGE", "pay_rate": "72",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/drivers/drv-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[api.DriverDTO](t, rec)
	assert.Equal(t, "PERCENTAGE", d.PayType)
	require.NotNil(t, d.PayRate)
	assert.Equal(t, "72", *d.PayRate)
}

func TestAPI_CreateAdvance_RejectsNonPositiveAmount(t *testing.T) {
	// GIVEN: An advance with a zero amount
	// WHEN: Posted
	// THEN: 400

	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/advances", map[string]any{
		"driver_id": "drv-1", "amount": "0",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CreateRule_InvalidConfigRejected(t *testing.T) {
	// GIVEN: A FIXED rule also carrying a percentage
	// WHEN: Posted
	// THEN: 400 from the rule factory validation

	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/rules", map[string]any{
		"id": "rule-1", "driver_id": "drv-1", "name": "Confused",
		"kind": "FIXED", "amount": "10", "percentage": "5",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestAPI_ListDriverRules(t *testing.T) {
	// GIVEN: A stored rule
	// WHEN: Listing the driver's rules
	// THEN: The JSON config form comes back

	router := newTestRouter(t)
	seedFleet(t, router)

	rec := doJSON(t, router, http.MethodGet, "/api/drivers/drv-1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string][]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp["rules"], 1)
	assert.Equal(t, "FIXED", resp["rules"][0]["kind"])
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestAPI_Scenarios_LoadAndReset(t *testing.T) {
	// GIVEN: A fresh server
	// WHEN: Loading the company-driver scenario, then resetting
	// THEN: Seeded data appears, then disappears

	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	scenarios := decode[[]api.ScenarioDTO](t, rec)
	assert.NotEmpty(t, scenarios)

	rec = doJSON(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{
		"scenario_id": "company-driver",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/drivers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	drivers := decode[[]api.DriverDTO](t, rec)
	assert.NotEmpty(t, drivers)

	rec = doJSON(t, router, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/drivers", nil)
	drivers = decode[[]api.DriverDTO](t, rec)
	assert.Empty(t, drivers)
}

func TestAPI_Scenarios_UnknownIDRejected(t *testing.T) {
	// GIVEN: A scenario id that does not exist
	// WHEN: Loading it
	// THEN: 400

	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{
		"scenario_id": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
