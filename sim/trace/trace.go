package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures grants and agent rounds.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level       TraceLevel
	RecordSkips bool // also record candidates that were reached but not served
}

// SimulationTrace collects decision records during a simulation.
type SimulationTrace struct {
	Config TraceConfig
	Grants []GrantRecord
	Rounds []RoundRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config: config,
		Grants: make([]GrantRecord, 0),
		Rounds: make([]RoundRecord, 0),
	}
}

// Enabled reports whether records should be collected.
func (st *SimulationTrace) Enabled() bool {
	return st != nil && st.Config.Level == TraceLevelDecisions
}

// RecordGrant appends a grant (or skip) record. Skips are dropped unless RecordSkips is set.
func (st *SimulationTrace) RecordGrant(record GrantRecord) {
	if record.Skipped && !st.Config.RecordSkips {
		return
	}
	st.Grants = append(st.Grants, record)
}

// RecordRound appends an agent round record.
func (st *SimulationTrace) RecordRound(record RoundRecord) {
	st.Rounds = append(st.Rounds, record)
}
