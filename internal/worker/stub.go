package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// RunStub speaks the worker protocol without calling any external model:
// it announces ready, then answers every TaskRequest with a started event
// and a completed result echoing the task name. A "sleep_ms" payload field
// delays the result, which lets tests exercise cancellation and stall
// detection. Returns when stdin closes or ctx is cancelled.
func RunStub(ctx context.Context, in io.Reader, out io.Writer) error {
	if err := WriteMessage(out, Message{Type: MsgReady}); err != nil {
		return err
	}

	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			b := make([]byte, len(sc.Bytes()))
			copy(b, sc.Bytes())
			lines <- b
		}
		errc <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			var req TaskRequest
			if err := json.Unmarshal(line, &req); err != nil || req.TaskID == "" {
				continue
			}
			if err := handleStubTask(ctx, out, req); err != nil {
				return err
			}
		}
	}
}

func handleStubTask(ctx context.Context, out io.Writer, req TaskRequest) error {
	if err := WriteMessage(out, Message{
		Type:   MsgEvent,
		TaskID: req.TaskID,
		Data:   map[string]any{"tool": "think", "summary": "stub worker started task"},
	}); err != nil {
		return err
	}

	if ms, ok := req.Payload["sleep_ms"].(float64); ok && ms > 0 {
		t := time.NewTimer(time.Duration(ms) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return WriteMessage(out, Message{Type: MsgResult, TaskID: req.TaskID, Status: ResultCancelled})
		case <-t.C:
		}
	}

	if fail, _ := req.Payload["fail"].(bool); fail {
		return WriteMessage(out, Message{
			Type:   MsgResult,
			TaskID: req.TaskID,
			Status: ResultFailed,
			Error:  "stub worker instructed to fail",
		})
	}

	return WriteMessage(out, Message{
		Type:       MsgResult,
		TaskID:     req.TaskID,
		Status:     ResultCompleted,
		Output:     fmt.Sprintf("stub: %s ok", req.Name),
		TokensUsed: int64(len(req.Name)),
	})
}
