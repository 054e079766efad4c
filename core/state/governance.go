package state

import (
	"fmt"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"fixedlend/crypto"
	"fixedlend/native/governance"
	"fixedlend/storage"
)

var (
	governanceProposalPrefix = []byte("governance/proposal/")
	governanceIndexKey       = ethcrypto.Keccak256([]byte("governance/proposals"))
)

func governanceProposalKey(id string) []byte {
	buf := make([]byte, 0, len(governanceProposalPrefix)+len(id))
	buf = append(buf, governanceProposalPrefix...)
	buf = append(buf, id...)
	return ethcrypto.Keccak256(buf)
}

type storedProposal struct {
	ID             string
	Action         string
	Summary        string
	ProposerPrefix string
	Proposer       []byte
	Status         uint8
	SubmitTime     uint64
	TimelockEnd    uint64
	Error          string
	Payload        []byte
}

// GovernanceStore persists timelocked proposals alongside the lending
// ledger.
type GovernanceStore struct {
	kv *LendingStore
}

// NewGovernanceStore wraps db. The store does not own the database.
func NewGovernanceStore(db storage.Database) *GovernanceStore {
	return &GovernanceStore{kv: NewLendingStore(db)}
}

var _ governance.Store = (*GovernanceStore)(nil)

// Proposals returns every stored proposal in submission order.
func (s *GovernanceStore) Proposals() ([]*governance.Proposal, error) {
	var ids []string
	if _, err := s.kv.get(governanceIndexKey, &ids); err != nil {
		return nil, err
	}
	out := make([]*governance.Proposal, 0, len(ids))
	for _, id := range ids {
		var stored storedProposal
		ok, err := s.kv.get(governanceProposalKey(id), &stored)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("state: proposal %s indexed but missing", id)
		}
		proposal, err := fromStoredProposal(stored)
		if err != nil {
			return nil, err
		}
		out = append(out, proposal)
	}
	return out, nil
}

// PutProposal inserts or replaces a proposal. The record and the index
// entry are written in one batch.
func (s *GovernanceStore) PutProposal(proposal *governance.Proposal) error {
	if proposal == nil || proposal.ID == "" {
		return fmt.Errorf("state: proposal id required")
	}
	var ids []string
	exists, err := s.kv.get(governanceProposalKey(proposal.ID), &storedProposal{})
	if err != nil {
		return err
	}
	batch := s.kv.db.NewBatch()
	put := func(key, value []byte) error {
		batch.Put(key, value)
		return nil
	}
	if !exists {
		if _, err := s.kv.get(governanceIndexKey, &ids); err != nil {
			return err
		}
		ids = append(ids, proposal.ID)
		if err := encodeInto(put, governanceIndexKey, ids); err != nil {
			return err
		}
	}
	if err := encodeInto(put, governanceProposalKey(proposal.ID), toStoredProposal(proposal)); err != nil {
		return err
	}
	return batch.Write()
}

func toStoredProposal(p *governance.Proposal) storedProposal {
	return storedProposal{
		ID:             p.ID,
		Action:         p.Action,
		Summary:        p.Summary,
		ProposerPrefix: string(p.Proposer.Prefix()),
		Proposer:       p.Proposer.Bytes(),
		Status:         uint8(p.Status),
		SubmitTime:     uint64(p.SubmitTime.UnixNano()),
		TimelockEnd:    uint64(p.TimelockEnd.UnixNano()),
		Error:          p.Error,
		Payload:        p.Payload,
	}
}

func fromStoredProposal(stored storedProposal) (*governance.Proposal, error) {
	proposal := &governance.Proposal{
		ID:          stored.ID,
		Action:      stored.Action,
		Summary:     stored.Summary,
		Status:      governance.ProposalStatus(stored.Status),
		SubmitTime:  time.Unix(0, int64(stored.SubmitTime)).UTC(),
		TimelockEnd: time.Unix(0, int64(stored.TimelockEnd)).UTC(),
		Error:       stored.Error,
		Payload:     stored.Payload,
	}
	if len(stored.Proposer) > 0 {
		if len(stored.Proposer) != crypto.AddressLength {
			return nil, fmt.Errorf("state: proposal %s has malformed proposer", stored.ID)
		}
		proposal.Proposer = crypto.NewAddress(crypto.AddressPrefix(stored.ProposerPrefix), stored.Proposer)
	}
	return proposal, nil
}
