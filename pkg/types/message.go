// Package types provides the messages exchanged between hayabusa
// submitters, the request broker, and workers.
package types

// Kind distinguishes the messages a worker (or the broker itself) feeds
// into the result path.
type Kind string

const (
	// KindNotice is a worker's claim on a command index. Progress only.
	KindNotice Kind = "notice"
	// KindResult carries the output of one finished command.
	KindResult Kind = "result"
	// KindTimeout is synthesized by the broker when a request expires.
	KindTimeout Kind = "timeout"
)

// Command is one executable unit dispatched to exactly one worker.
type Command struct {
	// ID is the request this command belongs to
	ID string `json:"id"`

	// Command is the shell command line to run
	Command string `json:"command"`

	// Sum requests numeric summation of the per-command outputs
	Sum bool `json:"sum"`

	// Index is the zero-based position of this command in its request
	Index int `json:"index"`

	// Total is the number of commands in the request, fixed at dispatch
	Total int `json:"commands"`
}

// Result is a worker notice or result, or a broker-synthesized timeout.
type Result struct {
	Kind Kind `json:"type"`

	// Command fields copied from the command being answered
	ID    string `json:"id"`
	Index int    `json:"index"`
	Total int    `json:"commands"`
	Sum   bool   `json:"sum"`

	// Worker is the label of the executor, e.g. "web01-Process-3"
	Worker string `json:"worker,omitempty"`

	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitStatus int    `json:"exit_status"`

	// ElapsedTime is the command runtime in seconds
	ElapsedTime float64 `json:"elapsed_time"`

	// Host and Port are only set on timeouts: the callback to notify
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// Delivery is the final message pushed to the caller's callback address.
type Delivery struct {
	ID         string `json:"id"`
	ExitStatus int    `json:"exit_status"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

// TimeoutStderr is the stderr of every timeout delivery.
const TimeoutStderr = "Error: Request Timeout"
