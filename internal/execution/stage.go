package execution

import "fmt"

// Stage identifies where in the execution state machine an operation
// is, or where it failed. The machine is strictly sequential:
// Sizing -> EntryPlaced -> FillConfirmed -> StopLossAttached ->
// TakeProfitAttached -> Persisted, with Failed reachable from any stage.
type Stage int

const (
	StageSizing Stage = iota
	StageEntryPlaced
	StageFillConfirmed
	StageStopLossAttached
	StageTakeProfitAttached
	StagePersisted
)

func (s Stage) String() string {
	switch s {
	case StageSizing:
		return "sizing"
	case StageEntryPlaced:
		return "entry_placed"
	case StageFillConfirmed:
		return "fill_confirmed"
	case StageStopLossAttached:
		return "stop_loss_attached"
	case StageTakeProfitAttached:
		return "take_profit_attached"
	case StagePersisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// StageError reports a failure together with the stage it occurred in,
// so "nothing happened" is distinguishable from "position is live but
// unprotected".
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("execution failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// failedAt wraps err with its stage.
func failedAt(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}
