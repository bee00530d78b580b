package voice

import "fmt"

// Stage is a position in the per-turn state machine. A turn moves strictly
// forward through the stages; Failed is terminal and reachable from any of
// them.
type Stage uint8

const (
	StageReceived Stage = iota
	StageSessionResolved
	StageTranscribed
	StageHistoryUpdatedUser
	StageGenerated
	StageHistoryUpdatedAgent
	StageCostComputed
	StageSynthesized
	StageRelayed
	StageFailed
)

var stageNames = [...]string{
	StageReceived:            "received",
	StageSessionResolved:     "session_resolved",
	StageTranscribed:         "transcribed",
	StageHistoryUpdatedUser:  "history_updated_user",
	StageGenerated:           "generated",
	StageHistoryUpdatedAgent: "history_updated_agent",
	StageCostComputed:        "cost_computed",
	StageSynthesized:         "synthesized",
	StageRelayed:             "relayed",
	StageFailed:              "failed",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// StageError records the last stage a turn reached before failing.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("turn failed after %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
