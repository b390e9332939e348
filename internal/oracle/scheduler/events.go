package scheduler

import (
	"time"

	"beaconoracle.com/internal/oracle/domain"
	"github.com/segmentio/encoding/json"
)

const (
	TopicSubmitted = "anchor:submitted"
	TopicFailed    = "anchor:failed"
)

// AnchorEvent is published after every submission attempt.
type AnchorEvent struct {
	Strategy  string    `json:"strategy"`
	Boundary  uint64    `json:"boundary"`
	Timestamp uint64    `json:"timestamp"`
	Success   bool      `json:"success"`
	TxHash    string    `json:"txHash,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

func encodeEvent(strategy string, c domain.CandidateUpdate, o domain.SubmissionOutcome) (string, []byte, error) {
	ev := AnchorEvent{
		Strategy:  strategy,
		Boundary:  c.Boundary,
		Timestamp: c.BlockTimestamp,
		Success:   o.Success,
		At:        time.Now().UTC(),
	}
	if o.TxHash != nil {
		ev.TxHash = o.TxHash.Hex()
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
	}
	topic := TopicSubmitted
	if !o.Success {
		topic = TopicFailed
	}
	payload, err := json.Marshal(ev)
	return topic, payload, err
}
