/*
engine.go - The four-operation engine facade

PURPOSE:
  Bundles the aggregator and state machine behind the narrow surface the
  API layer calls: Generate, Preview, Approve, Reject. Authorization is
  enforced by the caller before the engine is invoked; the engine assumes
  the driver id is already in scope.
*/
package settlement

import "context"

// Engine is the entry point for settlement operations. Construct with
// NewEngine; the zero value is not usable.
type Engine struct {
	Aggregator   *SettlementAggregator
	StateMachine *SettlementStateMachine
}

// NewEngine wires the engine onto a transactional storage. The listener
// receives SettlementApproved events and may be nil.
func NewEngine(storage TxStorage, listener ApprovalListener) *Engine {
	sm := NewSettlementStateMachine(storage)
	sm.Listener = listener
	return &Engine{
		Aggregator:   NewSettlementAggregator(storage),
		StateMachine: sm,
	}
}

// Generate assembles and persists a PENDING settlement for the driver.
func (e *Engine) Generate(ctx context.Context, driverID DriverID, period Period, opts GenerateOptions) (*Settlement, error) {
	return e.Aggregator.Generate(ctx, driverID, period, opts)
}

// Preview runs the generation computation without claiming anything.
func (e *Engine) Preview(ctx context.Context, driverID DriverID, period Period, opts GenerateOptions) (*Settlement, error) {
	return e.Aggregator.Preview(ctx, driverID, period, opts)
}

// Approve finalizes a PENDING settlement for payment.
func (e *Engine) Approve(ctx context.Context, id SettlementID, approverID, paymentMethod, paymentReference string) (*Settlement, error) {
	return e.StateMachine.Approve(ctx, id, approverID, paymentMethod, paymentReference)
}

// Reject voids a PENDING settlement and releases its claims.
func (e *Engine) Reject(ctx context.Context, id SettlementID, approverID, reason string) (*Settlement, error) {
	return e.StateMachine.Reject(ctx, id, approverID, reason)
}
