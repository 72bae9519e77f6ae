package socket

import (
	"errors"
)

// Op is the discriminant carried by every frame in both directions.
type Op string

const (
	OpPing Op = "PING"

	OpNewNote               Op = "NEW_NOTE"
	OpNotesInfo             Op = "NOTES_INFO"
	OpNote                  Op = "NOTE"
	OpParagraph             Op = "PARAGRAPH"
	OpParagraphAppendOutput Op = "PARAGRAPH_APPEND_OUTPUT"
	OpParagraphAdded        Op = "PARAGRAPH_ADDED"
	OpInterpreterStatus     Op = "INTERPRETER_STATUS"
	OpConfigurationsInfo    Op = "CONFIGURATIONS_INFO"
	OpListNoteJobs          Op = "LIST_NOTE_JOBS"

	OpListNotes               Op = "LIST_NOTES"
	OpGetNote                 Op = "GET_NOTE"
	OpCloneNote               Op = "CLONE_NOTE"
	OpDeleteNote              Op = "DEL_NOTE"
	OpMoveNoteToTrash         Op = "MOVE_NOTE_TO_TRASH"
	OpRunAllParagraphs        Op = "RUN_ALL_PARAGRAPHS"
	OpRunParagraph            Op = "RUN_PARAGRAPH"
	OpInsertParagraph         Op = "INSERT_PARAGRAPH"
	OpCopyParagraph           Op = "COPY_PARAGRAPH"
	OpParagraphRemove         Op = "PARAGRAPH_REMOVE"
	OpParagraphClearAllOutput Op = "PARAGRAPH_CLEAR_ALL_OUTPUT"
)

// Sink action names.
const (
	ActionUpdateWebSocketStatus = "updateWebSocketStatus"
	ActionSetNoteMenu           = "setNoteMenu"
	ActionSetNotebookContent    = "setNotebookContent"
	ActionSetParagraphOutput    = "setParagraphOutput"
	ActionSetParagraph          = "setParagraph"
	ActionSaveActivityList      = "saveActivityList"
)

// Status is the process-wide connection status published to the sink.
type Status string

const (
	StatusTrying       Status = "trying"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Sink receives named state mutations. Dispatch is fire-and-forget.
type Sink interface {
	Dispatch(action string, payload any)
}

type SinkFunc func(action string, payload any)

func (f SinkFunc) Dispatch(action string, payload any) {
	f(action, payload)
}

// Message is an outbound event. Data is flattened next to the op and the
// auth fields on the wire.
type Message struct {
	Op   Op
	Data map[string]any
}

func NewMessage(op Op, data map[string]any) Message {
	return Message{Op: op, Data: data}
}

// Inbound is a server push.
type Inbound struct {
	Op   Op             `json:"op"`
	Data map[string]any `json:"data"`
}

var (
	ErrClientClosed   = errors.New("client closed")
	ErrMissingOp      = errors.New("message has no op")
	ErrInvalidMessage = errors.New("invalid message format")
)
