package bus

// Extraction event topics.
const (
	TopicFactsExtracted   = "memory.facts.extracted"
	TopicEpisodeRecorded  = "memory.episode.recorded"
	TopicProcedureMined   = "memory.procedure.mined"
	TopicCorrectionStored = "memory.correction.stored"
	TopicFailureStored    = "memory.failure.stored"
)

// Trigger and search topics.
const (
	TopicProactiveAlert = "trigger.alert"
	TopicIndexUpdated   = "search.index.updated"
)

// FactsExtractedEvent is published after a compaction extraction batch lands.
type FactsExtractedEvent struct {
	OwnerID      string // Owner key the batch belongs to
	ArtifactPath string // Markdown file written for the batch
	FactCount    int    // Facts recorded after dedup
}

// EpisodeRecordedEvent is published when a finished run produced an episode.
type EpisodeRecordedEvent struct {
	OwnerID   string // Owner key
	ToolCount int    // Distinct tools invoked during the run
	Success   bool   // Run outcome
}

// ProcedureMinedEvent is published when a reusable procedure was persisted.
type ProcedureMinedEvent struct {
	OwnerID string // Owner key
	Name    string // Derived procedure name
	Steps   int    // Ordered step count
}

// CorrectionStoredEvent is published when a detected correction is recorded.
type CorrectionStoredEvent struct {
	OwnerID    string  // Owner key
	Category   string  // factual, behavioral, preference, procedural
	Confidence float64 // Detector confidence, 0..1
}

// FailureStoredEvent is published when a classified tool failure is recorded.
type FailureStoredEvent struct {
	OwnerID  string // Owner key
	ToolName string // Failing tool
	Category string // Classified failure category
	Count    int    // Occurrences after merge
}

// ProactiveAlertEvent carries one evaluator pass's surviving alerts.
type ProactiveAlertEvent struct {
	OwnerID string   // Owner key evaluated
	Types   []string // Trigger types fired, priority order
	Block   string   // Rendered markdown alert block
}

// IndexUpdatedEvent is published after the artifact indexer runs.
type IndexUpdatedEvent struct {
	Files  int // Markdown files (re)indexed
	Chunks int // Content chunks written to the indexes
}
