package types

import "time"

// SubmitRequest is a search submission. The user is assumed to be
// authenticated by whatever front end forwards the request.
type SubmitRequest struct {
	User string `json:"user"`

	// Host and Port form the callback address for the final delivery
	Host string `json:"host"`
	Port int    `json:"port"`

	// StartTime and EndTime are "YYYY-MM-DD HH:MM" or "YYYY-MM-DD"
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`

	// Match is the full-text query; empty selects every row
	Match string `json:"match"`

	Count bool `json:"count"`
	Sum   bool `json:"sum"`
	Exact bool `json:"exact"`
}

// SubmitResponse carries the id assigned to an accepted submission.
type SubmitResponse struct {
	ID string `json:"id"`
}

// StatusRequest asks for one request record. When User is set it must
// own the record.
type StatusRequest struct {
	ID   string `json:"id"`
	User string `json:"user,omitempty"`
}

// StatusResponse is a read-only snapshot of a request record. Progress
// holds per-command worker labels while results are collected; Result is
// set once the final payload exists.
type StatusResponse struct {
	ID       string    `json:"id"`
	User     string    `json:"user"`
	Status   string    `json:"status"`
	Progress []string  `json:"progress,omitempty"`
	Result   *Delivery `json:"result,omitempty"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

// CommandsRequest opens a worker's command stream.
type CommandsRequest struct {
	// Worker identifies the connecting worker host
	Worker string `json:"worker"`
}

// ResultsAck closes a worker's result stream.
type ResultsAck struct {
	Received int64 `json:"received"`
}
