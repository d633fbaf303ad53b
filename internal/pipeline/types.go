package pipeline

import (
	"time"

	"db-backup/internal/database"
)

// State is the furthest point a run has reached
type State int

const (
	StateIdle State = iota
	StateConnected
	StateQueried
	StateExported
	StateEncrypted
	StateUploaded
	StateCleaned
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:      "idle",
	StateConnected: "connected",
	StateQueried:   "queried",
	StateExported:  "exported",
	StateEncrypted: "encrypted",
	StateUploaded:  "uploaded",
	StateCleaned:   "cleaned",
	StateFailed:    "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Stage names a unit of work that can fail
type Stage string

const (
	StagePrepare Stage = "prepare"
	StageConnect Stage = "connect"
	StageQuery   Stage = "query"
	StageExport  Stage = "export"
	StageEncrypt Stage = "encrypt"
	StageUpload  Stage = "upload"
)

// EventKind distinguishes progress events
type EventKind int

const (
	EventRunStarted EventKind = iota
	EventStepStarted
	EventStepCompleted
	EventStepFailed
	EventCleanup
)

// Event is a progress notification. RunID and Spec are set when the run
// starts, Step and Total for step events, Deleted and Err for cleanup.
type Event struct {
	Kind    EventKind
	RunID   string
	Spec    database.ExportSpec
	Step    int
	Total   int
	Stage   Stage
	Title   string
	Detail  string
	Err     error
	Deleted []string
}

// Observer receives progress events. It must not block; it cannot influence the run.
type Observer func(Event)

// RunResult is the binary outcome of a run
type RunResult struct {
	RunID       string
	StartedAt   time.Time
	Success     bool
	FailedStage Stage
	Err         error
	Duration    time.Duration

	Spec           database.ExportSpec
	CSVPath        string
	EncryptedPath  string
	Rows           int64
	CSVBytes       int64
	EncryptedBytes int64

	ObjectKey string
	Location  string

	Deleted    []string
	KeptFiles  []string
	CleanupErr error
}
