package service

import "github.com/aalicav/conecta-backend-sub000/internal/repository"

// ApprovalPolicy decides whether a negotiation needs director escalation.
// Thresholds are injected from configuration, in cents.
type ApprovalPolicy struct {
	// TotalThreshold escalates when the sum of proposed item values exceeds it.
	TotalThreshold int64
	// ItemThreshold escalates when any single proposed item value exceeds it.
	ItemThreshold int64
}

// NeedsDirectorApproval reports whether the proposed values cross either
// escalation threshold. Pure function.
func (p ApprovalPolicy) NeedsDirectorApproval(items []*repository.NegotiationItem) bool {
	var total int64
	for _, item := range items {
		if item.ProposedValue > p.ItemThreshold {
			return true
		}
		total += item.ProposedValue
	}
	return total > p.TotalThreshold
}
