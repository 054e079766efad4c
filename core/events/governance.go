package events

import (
	"strconv"
	"time"

	"fixedlend/crypto"
)

const (
	TypeGovernanceExecuted = "gov.executed"
	TypeGovernanceQueued   = "gov.queued"
	TypeGovernanceResolved = "gov.resolved"
)

// GovernanceExecuted is emitted when an authorized caller runs a privileged
// action directly.
type GovernanceExecuted struct {
	Action string
	Caller crypto.Address
}

func (GovernanceExecuted) EventType() string { return TypeGovernanceExecuted }

func (e GovernanceExecuted) Record() *Record {
	return &Record{
		Type: TypeGovernanceExecuted,
		Attributes: map[string]string{
			"action": e.Action,
			"caller": formatAddress(e.Caller),
		},
	}
}

// GovernanceQueued is emitted when a privileged action is deferred to the
// timelock queue.
type GovernanceQueued struct {
	ProposalID  string
	Action      string
	Proposer    crypto.Address
	TimelockEnd time.Time
}

func (GovernanceQueued) EventType() string { return TypeGovernanceQueued }

func (e GovernanceQueued) Record() *Record {
	return &Record{
		Type: TypeGovernanceQueued,
		Attributes: map[string]string{
			"proposalId":  e.ProposalID,
			"action":      e.Action,
			"proposer":    formatAddress(e.Proposer),
			"timelockEnd": strconv.FormatInt(e.TimelockEnd.Unix(), 10),
		},
	}
}

// GovernanceResolved is emitted when a queued proposal is executed, fails or
// is cancelled.
type GovernanceResolved struct {
	ProposalID string
	Action     string
	Status     string
	Error      string
}

func (GovernanceResolved) EventType() string { return TypeGovernanceResolved }

func (e GovernanceResolved) Record() *Record {
	attrs := map[string]string{
		"proposalId": e.ProposalID,
		"action":     e.Action,
		"status":     e.Status,
	}
	if e.Error != "" {
		attrs["error"] = e.Error
	}
	return &Record{Type: TypeGovernanceResolved, Attributes: attrs}
}
