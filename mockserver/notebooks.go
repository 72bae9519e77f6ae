package mockserver

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kleeedolinux/notebookws/socket"
)

type Paragraph struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
}

type Note struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Paragraphs []*Paragraph `json:"paragraphs"`
	Updated    time.Time    `json:"-"`
}

func (note *Note) clone() *Note {
	c := *note
	c.Paragraphs = make([]*Paragraph, len(note.Paragraphs))
	for i, p := range note.Paragraphs {
		cp := *p
		c.Paragraphs[i] = &cp
	}
	return &c
}

type NoteSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type noteJob struct {
	NoteID        string `json:"noteId"`
	NoteName      string `json:"noteName"`
	IsRunningJob  bool   `json:"isRunningJob"`
	UnixTimeLast  int64  `json:"unixTimeLastRun"`
	ParagraphJobs int    `json:"paragraphs"`
}

// Notebooks is the backend's in-memory note store. Accessors return copies.
type Notebooks struct {
	mu    sync.RWMutex
	notes map[string]*Note
}

func NewNotebooks() *Notebooks {
	return &Notebooks{notes: make(map[string]*Note)}
}

func (n *Notebooks) Create(name string) *Note {
	n.mu.Lock()
	defer n.mu.Unlock()

	note := &Note{ID: uuid.NewString(), Name: name, Paragraphs: []*Paragraph{}, Updated: time.Now()}
	n.notes[note.ID] = note
	return note.clone()
}

func (n *Notebooks) Get(id string) (*Note, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	note, ok := n.notes[id]
	if !ok {
		return nil, false
	}
	return note.clone(), true
}

func (n *Notebooks) List() []NoteSummary {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]NoteSummary, 0, len(n.notes))
	for _, note := range n.notes {
		out = append(out, NoteSummary{ID: note.ID, Name: note.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Insert adds a paragraph at index, clamped to the note's bounds.
func (n *Notebooks) Insert(noteID string, index int, text string) (*Paragraph, int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	note, ok := n.notes[noteID]
	if !ok {
		return nil, 0, false
	}

	if index < 0 || index > len(note.Paragraphs) {
		index = len(note.Paragraphs)
	}

	p := &Paragraph{ID: uuid.NewString(), Text: text, Status: "READY"}
	note.Paragraphs = append(note.Paragraphs, nil)
	copy(note.Paragraphs[index+1:], note.Paragraphs[index:])
	note.Paragraphs[index] = p
	note.Updated = time.Now()
	cp := *p
	return &cp, index, true
}

// Run "executes" a paragraph by echoing its text as output.
func (n *Notebooks) Run(noteID, paragraphID, text string) (*Paragraph, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	note, ok := n.notes[noteID]
	if !ok {
		return nil, false
	}

	for _, p := range note.Paragraphs {
		if p.ID == paragraphID {
			if text != "" {
				p.Text = text
			}
			p.Output = p.Text
			p.Status = "FINISHED"
			note.Updated = time.Now()
			cp := *p
			return &cp, true
		}
	}
	return nil, false
}

func (n *Notebooks) jobs() []noteJob {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]noteJob, 0, len(n.notes))
	for _, note := range n.notes {
		out = append(out, noteJob{
			NoteID:        note.ID,
			NoteName:      note.Name,
			UnixTimeLast:  note.Updated.Unix(),
			ParagraphJobs: len(note.Paragraphs),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NoteID < out[j].NoteID })
	return out
}

func (s *Server) registerNotebookHandlers() {
	s.HandleFunc(socket.OpPing, func(*Conn, Frame) {})

	s.HandleFunc(socket.OpListNotes, func(c *Conn, f Frame) {
		c.Push(socket.OpNotesInfo, map[string]any{"notes": s.notes.List()})
	})

	s.HandleFunc(socket.OpGetNote, func(c *Conn, f Frame) {
		note, ok := s.notes.Get(f.Field("id"))
		if !ok {
			return
		}
		s.rooms.Join(note.ID, c)
		c.Push(socket.OpNote, map[string]any{"note": note})
	})

	s.HandleFunc(socket.OpNewNote, func(c *Conn, f Frame) {
		name := f.Field("name")
		if name == "" {
			name = "Untitled Note"
		}
		note := s.notes.Create(name)
		c.Push(socket.OpNewNote, map[string]any{"note": note})
		s.Broadcast(socket.OpNotesInfo, map[string]any{"notes": s.notes.List()})
	})

	s.HandleFunc(socket.OpInsertParagraph, func(c *Conn, f Frame) {
		index, ok := f.Int("index")
		if !ok {
			index = -1
		}
		p, at, ok := s.notes.Insert(f.Field("noteId"), index, f.Field("text"))
		if !ok {
			return
		}
		s.BroadcastToNote(f.Field("noteId"), socket.OpParagraphAdded, map[string]any{"paragraph": p, "index": at})
	})

	s.HandleFunc(socket.OpRunParagraph, func(c *Conn, f Frame) {
		noteID := f.Field("noteId")
		p, ok := s.notes.Run(noteID, f.Field("id"), f.Field("paragraph"))
		if !ok {
			return
		}
		s.BroadcastToNote(noteID, socket.OpParagraphAppendOutput, map[string]any{
			"noteId":      noteID,
			"paragraphId": p.ID,
			"index":       0,
			"data":        p.Output,
		})
		s.BroadcastToNote(noteID, socket.OpParagraph, map[string]any{"paragraph": p})
	})

	s.HandleFunc(socket.OpListNoteJobs, func(c *Conn, f Frame) {
		c.Push(socket.OpListNoteJobs, map[string]any{
			"noteJobs": map[string]any{
				"jobs":                 s.notes.jobs(),
				"lastResponseUnixTime": time.Now().UnixMilli(),
			},
		})
	})
}
