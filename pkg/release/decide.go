package release

// Decision is what the orchestrator does after an attempt
type Decision int

const (
	// DecisionPublished ends the package as published
	DecisionPublished Decision = iota

	// DecisionRetry schedules another attempt after a backoff delay
	DecisionRetry

	// DecisionFailed ends the package as failed
	DecisionFailed
)

func (d Decision) String() string {
	switch d {
	case DecisionPublished:
		return "published"
	case DecisionRetry:
		return "retry"
	default:
		return "failed"
	}
}

// decide maps the class of attempt number attempt (1-based) to the next step
func decide(class Class, attempt, maxAttempts int) Decision {
	switch class {
	case ClassNone:
		return DecisionPublished
	case ClassTransient:
		if attempt < maxAttempts {
			return DecisionRetry
		}
		return DecisionFailed
	default:
		return DecisionFailed
	}
}
