package dispute

import (
	"math/big"
	"time"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
)

// Record mirrors the disputes table.
type Record struct {
	ID               string
	PoolAddress      string
	Round            uint64
	RaisedBy         string
	Reason           string
	Status           Status
	OutcomeNote      *string
	ResolvedBy       *string
	ResolutionAmount *big.Int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ResolvedAt       *time.Time
}

// CreateParams describes a newly raised dispute.
type CreateParams struct {
	ID          string
	PoolAddress string
	Round       uint64
	RaisedBy    string
	Reason      string
}

// ResolveParams closes the dispute under review for a pool.
type ResolveParams struct {
	PoolAddress string
	ResolvedBy  string
	OutcomeNote string
	Amount      *big.Int
}
