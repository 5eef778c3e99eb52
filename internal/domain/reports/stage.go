package reports

import "fmt"

// Stage names a step of the analysis pipeline.
type Stage string

const (
	StageResolving    Stage = "resolving"
	StageFetching     Stage = "fetching"
	StageSizeChecking Stage = "size_checking"
	StageInferring    Stage = "inferring"
	StagePersisting   Stage = "persisting"
	StageDone         Stage = "done"
)

// StageError records which pipeline stage aborted an analysis.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
