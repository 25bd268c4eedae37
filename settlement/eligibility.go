/*
eligibility.go - Which loads may enter a settlement

PURPOSE:
  Selects the loads that are billable and not already claimed by another
  settlement, in the two modes generation supports:

  Period mode (no explicit ids):
    driver match, settleable status (DELIVERED/INVOICED/PAID), not
    deleted, unclaimed, delivered within the period, and ready for
    settlement. Loads already INVOICED or PAID count as ready even when
    the flag was never set (imported loads skip the completion flow).

  Explicit-ids mode (trusted pre-validation path):
    loads fetched by id must still match the driver, be not-deleted and
    unclaimed; any violation fails the WHOLE selection so contested loads
    are never silently dropped. forceIncludeNotReady bypasses only the
    readiness check.

  Output is ordered by delivery date ascending for deterministic
  settlement numbering and review.
*/
package settlement

import (
	"context"
	"sort"
)

// LoadEligibilitySelector resolves the loads a settlement may claim.
type LoadEligibilitySelector struct {
	Storage Storage
}

// SelectForPeriod returns the driver's eligible loads delivered within the
// period, oldest delivery first.
func (s *LoadEligibilitySelector) SelectForPeriod(ctx context.Context, driverID DriverID, period Period) ([]Load, error) {
	loads, err := s.Storage.FindLoads(ctx, driverID, period.Start, period.End)
	if err != nil {
		return nil, err
	}

	var eligible []Load
	for _, l := range loads {
		if !s.billable(l) {
			continue
		}
		if l.DeliveredAt == nil || !period.Contains(*l.DeliveredAt) {
			continue
		}
		if !readyForSettlement(l) {
			continue
		}
		eligible = append(eligible, l)
	}

	sortByDelivery(eligible)
	return eligible, nil
}

// SelectByIDs returns the requested loads, failing the whole selection if
// any is claimed, deleted, missing, or belongs to another driver.
func (s *LoadEligibilitySelector) SelectByIDs(ctx context.Context, driverID DriverID, ids []LoadID, forceIncludeNotReady bool) ([]Load, error) {
	loads, err := s.Storage.GetLoads(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[LoadID]Load, len(loads))
	for _, l := range loads {
		byID[l.ID] = l
	}

	var contested []LoadID
	selected := make([]Load, 0, len(ids))
	for _, id := range ids {
		l, ok := byID[id]
		if !ok || l.DeletedAt != nil || l.DriverID != driverID || l.Settled() {
			contested = append(contested, id)
			continue
		}
		if !forceIncludeNotReady && !readyForSettlement(l) {
			return nil, &ValidationError{
				Field:   "load_ids",
				Message: "load " + string(id) + " is not ready for settlement",
			}
		}
		selected = append(selected, l)
	}

	if len(contested) > 0 {
		return nil, &LoadAlreadySettledError{LoadIDs: contested}
	}

	sortByDelivery(selected)
	return selected, nil
}

func (s *LoadEligibilitySelector) billable(l Load) bool {
	if l.DeletedAt != nil || l.Settled() {
		return false
	}
	for _, st := range SettleableStatuses {
		if l.Status == st {
			return true
		}
	}
	return false
}

// readyForSettlement honors the upstream completion flag, with the safety
// rule that an invoiced or paid load is definitely ready regardless of the
// flag (covers loads imported past the completion step).
func readyForSettlement(l Load) bool {
	return l.ReadyForSettlement || l.Status == LoadInvoiced || l.Status == LoadPaid
}

func sortByDelivery(loads []Load) {
	sort.SliceStable(loads, func(i, j int) bool {
		di, dj := loads[i].DeliveredAt, loads[j].DeliveredAt
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.Before(*dj)
		}
	})
}
