package models

// RunState is the state of an indexing run. A run walks the states in order
// and ends in StateDone or StateFailed; StateFailed is reachable from any step.
type RunState string

const (
	StateDownloading   RunState = "downloading"
	StateChunking      RunState = "chunking"
	StateEmbedding     RunState = "embedding"
	StateIndexBuilding RunState = "index_building"
	StateMerging       RunState = "merging"
	StatePersisting    RunState = "persisting"
	StateDone          RunState = "done"
	StateFailed        RunState = "failed"

	// StatePending is the registry status before a job has been picked up.
	StatePending RunState = "pending"
)

// RunResult reports the outcome of one indexing run.
// VectorsTotal counts the vectors added by this run (one per chunk);
// IndexTotal is the size of the persisted index after the merge.
type RunResult struct {
	State        RunState `json:"state"`
	VectorsTotal int      `json:"vectors_total"`
	IndexTotal   int      `json:"index_total"`
}
