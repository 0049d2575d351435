package broker

// Status is the lifecycle state of a request record.
type Status int

const (
	StatusReceivedRequest Status = iota
	StatusCollectingResults
	StatusReceivedAllResults
	StatusSentResult
	StatusTimeoutError
	StatusRequestError
)

var statusNames = [...]string{
	StatusReceivedRequest:    "ReceivedRequest",
	StatusCollectingResults:  "CollectingResults",
	StatusReceivedAllResults: "ReceivedAllResults",
	StatusSentResult:         "SentResult",
	StatusTimeoutError:       "TimeoutError",
	StatusRequestError:       "RequestError",
}

// String returns the status name.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Unknown"
	}
	return statusNames[s]
}

// transitions lists the allowed successors of each non-terminal status.
var transitions = map[Status][]Status{
	StatusReceivedRequest:    {StatusCollectingResults, StatusReceivedAllResults, StatusTimeoutError, StatusRequestError},
	StatusCollectingResults:  {StatusCollectingResults, StatusReceivedAllResults, StatusTimeoutError},
	StatusReceivedAllResults: {StatusSentResult},
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSentResult || s == StatusTimeoutError || s == StatusRequestError
}

// Pending reports whether the record still waits for results and is
// subject to the request timeout.
func (s Status) Pending() bool {
	return s == StatusReceivedRequest || s == StatusCollectingResults
}

// CanAdvance reports whether s may move to next.
func (s Status) CanAdvance(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
