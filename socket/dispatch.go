package socket

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/kleeedolinux/notebookws/debug"
)

// sinkRoutes maps server pushes to the sink action that applies them.
var sinkRoutes = map[Op]string{
	OpNotesInfo:             ActionSetNoteMenu,
	OpNote:                  ActionSetNotebookContent,
	OpParagraphAppendOutput: ActionSetParagraphOutput,
	OpParagraphAdded:        ActionSetParagraph,
	OpListNoteJobs:          ActionSaveActivityList,
}

// ignoredOps are known pushes that intentionally produce no sink call.
var ignoredOps = map[Op]string{
	OpParagraph:          "local copy already updated",
	OpInterpreterStatus:  "reserved",
	OpConfigurationsInfo: "reserved",
}

func decodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if in.Op == "" {
		return Inbound{}, fmt.Errorf("%w: missing op", ErrInvalidMessage)
	}
	return in, nil
}

// handleFrame never fails: malformed frames are counted and dropped so the
// read loop keeps going.
func (c *Client) handleFrame(raw []byte) {
	in, err := decodeInbound(raw)

	c.mu.Lock()
	c.stats.FramesReceived++
	if err != nil {
		c.stats.FramesDropped++
	}
	c.mu.Unlock()

	if err != nil {
		log.Printf("Client %s: dropping frame: %v", c.id, err)
		return
	}

	if c.scope != "" {
		if in.Data == nil {
			in.Data = make(map[string]any, 1)
		}
		in.Data["notebookId"] = c.scope
	}

	debug.Printf("Receive << %s, %v", in.Op, in.Data)
	c.route(in)
}

func (c *Client) route(in Inbound) {
	if in.Op == OpNewNote {
		c.openNewNote(in.Data)
		return
	}

	if action, ok := sinkRoutes[in.Op]; ok {
		c.sink.Dispatch(action, in.Data)
		return
	}

	if reason, ok := ignoredOps[in.Op]; ok {
		debug.Printf("Client %s: ignoring %s (%s)", c.id, in.Op, reason)
		return
	}

	debug.Printf("Client %s: unknown op %s", c.id, in.Op)
}

func (c *Client) openNewNote(data map[string]any) {
	note, _ := data["note"].(map[string]any)
	id, _ := note["id"].(string)
	if id == "" {
		log.Printf("Client %s: NEW_NOTE without note id", c.id)
		return
	}

	path := "/notebook/" + id
	if c.openNote == nil {
		log.Printf("Client %s: new note available at %s", c.id, path)
		return
	}
	c.openNote(path)
}
