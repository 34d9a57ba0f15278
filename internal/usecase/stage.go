package usecase

// Stage is a state of the per-event pipeline:
//
//	Received -> Verified -> HistoryLoaded -> PromptBuilt -> Completed -> Dispatched -> Persisted -> Done
//
// Rejected is reachable only from Received; Failed from any stage after Verified.
type Stage string

const (
	StageReceived      Stage = "received"
	StageVerified      Stage = "verified"
	StageHistoryLoaded Stage = "history_loaded"
	StagePromptBuilt   Stage = "prompt_built"
	StageCompleted     Stage = "completed"
	StageDispatched    Stage = "dispatched"
	StagePersisted     Stage = "persisted"
	StageDone          Stage = "done"
	StageRejected      Stage = "rejected"
	StageFailed        Stage = "failed"
)
