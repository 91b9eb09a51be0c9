// Copyright 2024 The go-probeum Authors
// This file is part of the go-probeum library.
//
// The go-probeum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-probeum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-probeum library. If not, see <http://www.gnu.org/licenses/>.

package poa

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// VoteProposer keeps the validator-set changes the local node wants to push
// through. It holds local preference only; whether a proposal passes is decided
// by the VoteTally of the chain.
type VoteProposer struct {
	proposals map[common.Address]VoteType // Current list of proposals we are pushing
	last      *common.Address             // Subject of the last vote handed out

	lock sync.RWMutex
}

// NewVoteProposer creates an empty proposal set.
func NewVoteProposer() *VoteProposer {
	return &VoteProposer{proposals: make(map[common.Address]VoteType)}
}

// ProposeVote records, or replaces, the local proposal about subject.
func (p *VoteProposer) ProposeVote(subject common.Address, kind VoteType) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.proposals[subject] = kind
}

// DiscardProposal drops the local proposal about subject, if any.
func (p *VoteProposer) DiscardProposal(subject common.Address) {
	p.lock.Lock()
	defer p.lock.Unlock()

	delete(p.proposals, subject)
}

// Proposals returns a copy of the outstanding local proposals.
func (p *VoteProposer) Proposals() map[common.Address]VoteType {
	p.lock.RLock()
	defer p.lock.RUnlock()

	proposals := make(map[common.Address]VoteType, len(p.proposals))
	for subject, kind := range p.proposals {
		proposals[subject] = kind
	}
	return proposals
}

// NextVote picks the vote local should embed into the next block it creates, or
// nil if no proposal is worth casting. A proposal is worth casting when it would
// change the current validator set and local has not already cast the same
// ballot. Proposals are visited round robin in ascending address order, so every
// outstanding proposal eventually gets a block.
func (p *VoteProposer) NextVote(local common.Address, tally *VoteTally) *Vote {
	p.lock.Lock()
	defer p.lock.Unlock()

	subjects := make([]common.Address, 0, len(p.proposals))
	for subject := range p.proposals {
		subjects = append(subjects, subject)
	}
	if len(subjects) == 0 {
		return nil
	}
	sort.Sort(validatorsAscending(subjects))

	start := 0
	if p.last != nil {
		start = sort.Search(len(subjects), func(i int) bool {
			return bytes.Compare(subjects[i][:], p.last[:]) > 0
		})
	}
	for i := 0; i < len(subjects); i++ {
		subject := subjects[(start+i)%len(subjects)]
		kind := p.proposals[subject]
		if kind.Authorize() == tally.IsValidator(subject) {
			continue
		}
		if tally.HasBallot(local, subject, kind) {
			continue
		}
		p.last = &subject
		return &Vote{Proposer: local, Subject: subject, Kind: kind}
	}
	return nil
}
