package service

import "github.com/aalicav/conecta-backend-sub000/internal/repository"

// AggregateItemResponses maps a negotiation's item statuses to its next
// status. Pure function; the caller performs the actual write, history append
// and notification.
//
// While any item is still pending the status is unchanged. Once every item
// has a response:
//   - all approved        → pending (internal review of the agreed terms)
//   - all rejected        → rejected
//   - all counter-offered → pending (counter-offers also need internal review)
//   - mixed               → partially_approved, or partially_complete when
//     internal approval was already granted before this aggregation ran
//
// The second return value reports whether the status changed.
func AggregateItemResponses(items []*repository.NegotiationItem, current repository.Status, internallyApproved bool) (repository.Status, bool) {
	if len(items) == 0 {
		return current, false
	}

	var approved, rejected, countered int
	for _, item := range items {
		switch item.Status {
		case repository.ItemStatusPending:
			return current, false
		case repository.ItemStatusApproved, repository.ItemStatusCompleted:
			approved++
		case repository.ItemStatusRejected:
			rejected++
		case repository.ItemStatusCounterOffered:
			countered++
		}
	}

	var next repository.Status
	switch {
	case approved == len(items):
		next = repository.StatusPending
	case rejected == len(items):
		next = repository.StatusRejected
	case countered == len(items):
		next = repository.StatusPending
	case internallyApproved:
		next = repository.StatusPartiallyComplete
	default:
		next = repository.StatusPartiallyApproved
	}

	return next, next != current
}
