package compaction

import (
	"context"
)

// MessageType names a message sent by a background compaction.
type MessageType string

// Message types.
const (
	MessageStarted  MessageType = "started"
	MessageProgress MessageType = "progress"
	MessageDone     MessageType = "done"
	MessageError    MessageType = "error"
)

// Message is one event of a background compaction. Result is set on done
// and Err on error.
type Message struct {
	Type     MessageType
	SheetID  string
	Progress int
	Result   *Result
	Err      error
}

// Start runs Compact in a goroutine. The returned channel carries started,
// zero or more progress messages, and finally done or error, and is then
// closed. Cancelling ctx stops message delivery.
func (e *Engine) Start(ctx context.Context, sheetID string) <-chan Message {
	out := make(chan Message, 8)
	go func() {
		defer close(out)
		send := func(m Message) {
			select {
			case out <- m:
			case <-ctx.Done():
			}
		}
		send(Message{Type: MessageStarted, SheetID: sheetID})
		res, err := e.Compact(ctx, sheetID, send)
		if err != nil {
			send(Message{Type: MessageError, SheetID: sheetID, Err: err})
			return
		}
		send(Message{Type: MessageDone, SheetID: sheetID, Progress: ProgressDone, Result: &res})
	}()
	return out
}
