// Package batch checks many files in one run, fanning checker
// invocations out across workers and streaming per-file progress to a
// sink.
package batch

import "time"

// Status describes how far along one file is.
type Status string

const (
	// StatusQueued indicates the file is waiting for a worker.
	StatusQueued Status = "queued"
	// StatusChecking indicates the checker is running on the file.
	StatusChecking Status = "checking"
	// StatusDone indicates the file finished, with or without findings.
	StatusDone Status = "done"
	// StatusError indicates the checker could not be run on the file.
	StatusError Status = "error"
)

// Event reports progress for a file (or for the overall run when File
// is empty).
type Event struct {
	File     string
	Status   Status
	Problems int
	Err      error
	Elapsed  time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events to a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}
