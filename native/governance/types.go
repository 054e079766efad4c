package governance

import (
	"context"
	"time"

	"fixedlend/crypto"
)

// ProposalStatus enumerates the lifecycle phases of a timelocked proposal.
type ProposalStatus uint8

const (
	// ProposalStatusUnspecified indicates the proposal has not yet been
	// initialised and should not appear in the queue.
	ProposalStatusUnspecified ProposalStatus = iota
	// ProposalStatusQueued marks proposals waiting for their timelock.
	ProposalStatusQueued
	// ProposalStatusExecuted indicates the proposal action has been applied.
	ProposalStatusExecuted
	// ProposalStatusFailed marks proposals whose action returned an error.
	ProposalStatusFailed
	// ProposalStatusCancelled marks proposals withdrawn before execution.
	ProposalStatusCancelled
)

func (s ProposalStatus) String() string {
	switch s {
	case ProposalStatusQueued:
		return "queued"
	case ProposalStatusExecuted:
		return "executed"
	case ProposalStatusFailed:
		return "failed"
	case ProposalStatusCancelled:
		return "cancelled"
	default:
		return "unspecified"
	}
}

// Handler applies a privileged action described by payload. Caller is the
// identity the action runs as.
type Handler func(ctx context.Context, caller crypto.Address, payload []byte) error

// Proposal is a privileged action submitted by a caller lacking the
// required role, executable once its timelock has elapsed. Payload is the
// encoded request handed to the action's handler.
type Proposal struct {
	ID          string         `json:"id"`
	Action      string         `json:"action"`
	Summary     string         `json:"summary"`
	Proposer    crypto.Address `json:"-"`
	Status      ProposalStatus `json:"status"`
	SubmitTime  time.Time      `json:"submit_time"`
	TimelockEnd time.Time      `json:"timelock_end"`
	Error       string         `json:"error,omitempty"`
	Payload     []byte         `json:"payload,omitempty"`
}

// Clone returns a deep copy of the proposal.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Payload = append([]byte(nil), p.Payload...)
	return &clone
}

// Store persists proposals so queued actions survive a restart.
type Store interface {
	PutProposal(proposal *Proposal) error
	Proposals() ([]*Proposal, error)
}

// Outcome reports which path ExecuteOrPropose took.
type Outcome struct {
	Executed bool
	Proposal *Proposal
}
