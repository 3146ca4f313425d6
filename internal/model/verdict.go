package model

// Verdict is the oracle's answer to a single injected condition
type Verdict int

const (
	VerdictFalse   Verdict = iota // Condition did not hold
	VerdictTrue                   // Condition held
	VerdictUnknown                // Transport or classification failure, never a content fact
)

func (v Verdict) String() string {
	switch v {
	case VerdictTrue:
		return "true"
	case VerdictFalse:
		return "false"
	default:
		return "unknown"
	}
}

// Holds reports whether the condition is known to hold.
// Unknown is treated as false so that no fact is asserted on an ambiguous signal.
func (v Verdict) Holds() bool {
	return v == VerdictTrue
}

// Stats counts oracle activity over a run
type Stats struct {
	Queries   int64 `json:"queries" yaml:"queries"`       // Requests actually sent
	True      int64 `json:"true" yaml:"true"`             // Conditions that held
	False     int64 `json:"false" yaml:"false"`           // Conditions that did not hold
	Unknown   int64 `json:"unknown" yaml:"unknown"`       // Transport failures
	CacheHits int64 `json:"cache_hits" yaml:"cache_hits"` // Verdicts replayed from cache
}
