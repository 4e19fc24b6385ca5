package runner

// Outcome is the single terminal result of one ingestion cycle. Every run
// ends in exactly one outcome, each mapped to a distinct exit code so
// scheduling infrastructure can alert appropriately.
type Outcome int

const (
	// Success: all fetched records were delivered to all sinks.
	Success Outcome = iota

	// PartialFailure: at least one record failed delivery to at least one
	// sink. The checkpoint still advanced; operators rely on sink-side
	// alerting for the gap.
	PartialFailure

	// Busy: another run holds the identity's lock. Not an error.
	Busy

	// Fatal: an unrecoverable source, checkpoint, or lock failure. The
	// checkpoint was not advanced past the last successfully saved point.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case PartialFailure:
		return "partial_failure"
	case Busy:
		return "busy"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ExitCode maps the outcome to the process exit status.
func (o Outcome) ExitCode() int {
	switch o {
	case Success:
		return 0
	case PartialFailure:
		return 2
	case Busy:
		return 3
	default:
		return 1
	}
}

// Worst returns the more severe of two outcomes, used to aggregate the
// results of several sub-API cycles into one process exit status.
func Worst(a, b Outcome) Outcome {
	severity := map[Outcome]int{Success: 0, Busy: 1, PartialFailure: 2, Fatal: 3}
	if severity[b] > severity[a] {
		return b
	}
	return a
}
