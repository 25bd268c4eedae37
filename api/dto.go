/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  All monetary and mileage amounts cross the wire as decimal strings
  ("1234.50"), never as floats. The engine's precision guarantee would be
  lost the moment a float64 touched a pay amount.

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  them through a shared *validator.Validate before touching the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - settlement/types.go: the domain model these project
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// SETTLEMENT REQUESTS
// =============================================================================

// GenerateSettlementRequest drives both generation and preview. Either a
// period or explicit load ids must be supplied.
type GenerateSettlementRequest struct {
	DriverID    string   `json:"driver_id" validate:"required"`
	PeriodStart string   `json:"period_start,omitempty" validate:"omitempty,datetime=2006-01-02"`
	PeriodEnd   string   `json:"period_end,omitempty" validate:"omitempty,datetime=2006-01-02"`
	LoadIDs     []string `json:"load_ids,omitempty"`

	SettlementNumber     string `json:"settlement_number,omitempty"`
	ForceIncludeNotReady bool   `json:"force_include_not_ready,omitempty"`
	Notes                string `json:"notes,omitempty"`
}

// ApproveSettlementRequest finalizes a pending settlement.
type ApproveSettlementRequest struct {
	ApproverID       string `json:"approver_id" validate:"required"`
	PaymentMethod    string `json:"payment_method" validate:"required"`
	PaymentReference string `json:"payment_reference,omitempty"`
}

// RejectSettlementRequest voids a pending settlement.
type RejectSettlementRequest struct {
	ApproverID string `json:"approver_id" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
}

// =============================================================================
// RECORD MANAGEMENT REQUESTS
// =============================================================================

// UpsertDriverRequest creates or updates a driver's pay configuration.
type UpsertDriverRequest struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name" validate:"required"`
	PayType string `json:"pay_type,omitempty" validate:"omitempty,oneof=PER_MILE PER_LOAD PERCENTAGE HOURLY"`
	PayRate string `json:"pay_rate,omitempty"`
}

// UpsertLoadRequest creates or updates a load record.
type UpsertLoadRequest struct {
	ID         string `json:"id,omitempty"`
	DriverID   string `json:"driver_id" validate:"required"`
	LoadNumber string `json:"load_number" validate:"required"`
	Status     string `json:"status" validate:"required,oneof=DELIVERED INVOICED PAID"`

	Revenue     string `json:"revenue,omitempty"`
	TotalMiles  string `json:"total_miles,omitempty"`
	LoadedMiles string `json:"loaded_miles,omitempty"`
	EmptyMiles  string `json:"empty_miles,omitempty"`
	DriverPay   string `json:"driver_pay,omitempty"`

	PickupAt    string `json:"pickup_at,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DeliveredAt string `json:"delivered_at,omitempty" validate:"omitempty,datetime=2006-01-02"`

	ReadyForSettlement bool `json:"ready_for_settlement,omitempty"`
}

// CreateAdvanceRequest records a cash advance for a driver.
type CreateAdvanceRequest struct {
	ID             string `json:"id,omitempty"`
	DriverID       string `json:"driver_id" validate:"required"`
	Amount         string `json:"amount" validate:"required"`
	ApprovalStatus string `json:"approval_status,omitempty" validate:"omitempty,oneof=PENDING APPROVED REJECTED"`
	RequestedAt    string `json:"requested_at,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Notes          string `json:"notes,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// SettlementDTO is the full settlement representation.
type SettlementDTO struct {
	ID               string `json:"id"`
	SettlementNumber string `json:"settlement_number"`
	DriverID         string `json:"driver_id"`

	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`

	LineItems []LineItemDTO `json:"line_items"`

	GrossPay              string `json:"gross_pay"`
	TotalDeductions       string `json:"total_deductions"`
	TotalAdvanceRepayment string `json:"total_advance_repayment"`
	NetPay                string `json:"net_pay"`

	ApprovalStatus   string  `json:"approval_status"`
	PaymentMethod    *string `json:"payment_method,omitempty"`
	PaymentReference *string `json:"payment_reference,omitempty"`
	ApprovedBy       *string `json:"approved_by,omitempty"`
	ApprovedAt       *string `json:"approved_at,omitempty"`
	RejectedBy       *string `json:"rejected_by,omitempty"`
	RejectionReason  *string `json:"rejection_reason,omitempty"`

	Notes        string `json:"notes,omitempty"`
	CalculatedAt string `json:"calculated_at"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// LineItemDTO is one breakdown row; amount is signed.
type LineItemDTO struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	ReferenceID string `json:"reference_id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

// DriverDTO represents a driver's pay configuration.
type DriverDTO struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	PayType string  `json:"pay_type,omitempty"`
	PayRate *string `json:"pay_rate,omitempty"`
}

// LoadDTO represents a load record.
type LoadDTO struct {
	ID         string `json:"id"`
	DriverID   string `json:"driver_id"`
	LoadNumber string `json:"load_number"`
	Status     string `json:"status"`

	Revenue     string  `json:"revenue"`
	TotalMiles  string  `json:"total_miles"`
	LoadedMiles string  `json:"loaded_miles"`
	EmptyMiles  string  `json:"empty_miles"`
	DriverPay   *string `json:"driver_pay,omitempty"`

	PickupAt    *string `json:"pickup_at,omitempty"`
	DeliveredAt *string `json:"delivered_at,omitempty"`

	ReadyForSettlement bool    `json:"ready_for_settlement"`
	SettlementID       *string `json:"settlement_id,omitempty"`
}

// AdvanceDTO represents a cash advance with its repayment progress.
type AdvanceDTO struct {
	ID             string  `json:"id"`
	DriverID       string  `json:"driver_id"`
	Amount         string  `json:"amount"`
	AmountRepaid   string  `json:"amount_repaid"`
	Outstanding    string  `json:"outstanding"`
	ApprovalStatus string  `json:"approval_status"`
	RequestedAt    string  `json:"requested_at"`
	PaidAt         *string `json:"paid_at,omitempty"`
	SettlementID   *string `json:"settlement_id,omitempty"`
	Notes          string  `json:"notes,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toSettlementDTO(s *settlement.Settlement) SettlementDTO {
	dto := SettlementDTO{
		ID:               string(s.ID),
		SettlementNumber: s.SettlementNumber,
		DriverID:         string(s.DriverID),
		PeriodStart:      s.PeriodStart.Format("2006-01-02"),
		PeriodEnd:        s.PeriodEnd.Format("2006-01-02"),

		GrossPay:              s.GrossPay.String(),
		TotalDeductions:       s.TotalDeductions.String(),
		TotalAdvanceRepayment: s.TotalAdvanceRepayment.String(),
		NetPay:                s.NetPay.String(),

		ApprovalStatus:   string(s.ApprovalStatus),
		PaymentMethod:    s.PaymentMethod,
		PaymentReference: s.PaymentReference,
		ApprovedBy:       s.ApprovedBy,
		ApprovedAt:       timeStr(s.ApprovedAt),
		RejectedBy:       s.RejectedBy,
		RejectionReason:  s.RejectionReason,

		Notes:        s.Notes,
		CalculatedAt: s.CalculatedAt.Format(time.RFC3339),
	}
	if !s.CreatedAt.IsZero() {
		dto.CreatedAt = s.CreatedAt.Format(time.RFC3339)
	}

	dto.LineItems = make([]LineItemDTO, len(s.LineItems))
	for i, li := range s.LineItems {
		dto.LineItems[i] = LineItemDTO{
			ID:          li.ID,
			Source:      string(li.Source),
			ReferenceID: li.ReferenceID,
			Description: li.Description,
			Amount:      li.Amount.String(),
		}
	}
	return dto
}

func toDriverDTO(d settlement.Driver) DriverDTO {
	return DriverDTO{
		ID:      string(d.ID),
		Name:    d.Name,
		PayType: string(d.PayType),
		PayRate: decimalStr(d.PayRate),
	}
}

func toLoadDTO(l settlement.Load) LoadDTO {
	dto := LoadDTO{
		ID:                 string(l.ID),
		DriverID:           string(l.DriverID),
		LoadNumber:         l.LoadNumber,
		Status:             string(l.Status),
		Revenue:            l.Revenue.String(),
		TotalMiles:         l.TotalMiles.String(),
		LoadedMiles:        l.LoadedMiles.String(),
		EmptyMiles:         l.EmptyMiles.String(),
		DriverPay:          decimalStr(l.DriverPay),
		PickupAt:           timeStr(l.PickupAt),
		DeliveredAt:        timeStr(l.DeliveredAt),
		ReadyForSettlement: l.ReadyForSettlement,
	}
	if l.SettlementID != nil {
		s := string(*l.SettlementID)
		dto.SettlementID = &s
	}
	return dto
}

func toAdvanceDTO(a settlement.DriverAdvance) AdvanceDTO {
	dto := AdvanceDTO{
		ID:             string(a.ID),
		DriverID:       string(a.DriverID),
		Amount:         a.Amount.String(),
		AmountRepaid:   a.AmountRepaid.String(),
		Outstanding:    a.Outstanding().String(),
		ApprovalStatus: string(a.ApprovalStatus),
		RequestedAt:    a.RequestedAt.Format(time.RFC3339),
		PaidAt:         timeStr(a.PaidAt),
		Notes:          a.Notes,
	}
	if a.SettlementID != nil {
		s := string(*a.SettlementID)
		dto.SettlementID = &s
	}
	return dto
}

func timeStr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func decimalStr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
