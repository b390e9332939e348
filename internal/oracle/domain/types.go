package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// CandidateUpdate is the boundary a cycle tries to anchor. Built fresh every cycle.
type CandidateUpdate struct {
	Boundary       uint64 // block number, multiple of the anchoring interval
	BlockTimestamp uint64 // timestamp of that block, the key the contract stores roots under
}

// SubmissionOutcome is what a Submitter reports for one addTimestamp call.
type SubmissionOutcome struct {
	Success bool
	TxHash  *common.Hash // set on success, and on broadcast-but-unconfirmed
	Err     error
}

func Succeeded(hash common.Hash) SubmissionOutcome {
	return SubmissionOutcome{Success: true, TxHash: &hash}
}

func Failed(err error) SubmissionOutcome {
	return SubmissionOutcome{Err: err}
}

// Unconfirmed is a broadcast whose inclusion could not be confirmed in time.
func Unconfirmed(hash common.Hash, err error) SubmissionOutcome {
	return SubmissionOutcome{TxHash: &hash, Err: err}
}

// Mode selects the submission strategy, once, at startup.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeRelay  Mode = "relay"
)

// Stage is how far a cycle got.
type Stage string

const (
	StageReadFailed      Stage = "read_failed"
	StageNoCandidate     Stage = "no_candidate"
	StageUnstable        Stage = "unstable"
	StageAlreadyAnchored Stage = "already_anchored"
	StageSubmitted       Stage = "submitted"
	StageSubmitFailed    Stage = "submit_failed"
	StageNotLeader       Stage = "not_leader"
	StagePanicked        Stage = "panicked"
)
