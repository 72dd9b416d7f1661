// Package worker defines the wire protocol between the pool manager and a
// worker process: the pool writes one JSON TaskRequest per line to the
// worker's stdin, and the worker emits NDJSON messages on stdout. A worker
// announces itself with a "ready" message, streams "event" messages while
// working, and finishes each task with a single "result" message.
package worker

import (
	"bufio"
	"encoding/json"
	"io"
	"time"
)

// Message types emitted by a worker on stdout.
const (
	MsgReady  = "ready"
	MsgEvent  = "event"
	MsgResult = "result"
)

// Result statuses carried by a MsgResult message.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
)

// TaskRequest is one line written to the worker's stdin.
type TaskRequest struct {
	TaskID    string         `json:"task_id"`
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload,omitempty"`
	TimeoutMs int64          `json:"timeout_ms,omitempty"`
}

// Message is one NDJSON line read from the worker's stdout.
type Message struct {
	Type       string         `json:"type"`
	TaskID     string         `json:"task_id,omitempty"`
	Status     string         `json:"status,omitempty"`
	Output     string         `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	TokensUsed int64          `json:"tokens_used,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// WriteRequest marshals req and writes it as one line.
func WriteRequest(w io.Writer, req TaskRequest) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// WriteMessage marshals msg and writes it as one line, filling Timestamp
// if unset.
func WriteMessage(w io.Writer, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// ScanMessages reads NDJSON messages from r and calls handle for each one
// until EOF or a read error. Lines that do not parse as a Message are
// skipped; workers may write free-form diagnostics between messages.
func ScanMessages(r io.Reader, handle func(Message)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Type == "" {
			continue
		}
		handle(msg)
	}
	return sc.Err()
}
