package command

import (
	"log"
	"strings"
	"unicode"

	"github.com/kleeedolinux/notebookws/debug"
	"github.com/kleeedolinux/notebookws/socket"
)

// Bus event names.
const (
	EventShowTab   = "show-tab"
	EventNotebook  = "notebook"
	EventParagraph = "paragraph"
)

// ActionAddTab is the sink action that opens a tab.
const ActionAddTab = "addTab"

const TabTypeNotebook = "notebook"

type Tab struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	Path            string `json:"path"`
	ActiveParagraph string `json:"-"`
}

// TabState exposes the tab currently in focus, nil when none.
type TabState interface {
	CurrentTab() *Tab
}

// Sender is satisfied by *socket.Client.
type Sender interface {
	Send(msg socket.Message, callback func()) error
}

// noteOps are notebook commands forwarded to the backend, keyed by command.
var noteOps = map[string]socket.Op{
	"new":                socket.OpNewNote,
	"clear-output":       socket.OpParagraphClearAllOutput,
	"run-all":            socket.OpRunAllParagraphs,
	"reload":             socket.OpGetNote,
	"clone":              socket.OpCloneNote,
	"delete-temporary":   socket.OpMoveNoteToTrash,
	"delete-permanently": socket.OpDeleteNote,
}

var paragraphOps = map[string]socket.Op{
	"run":    socket.OpRunParagraph,
	"clone":  socket.OpCopyParagraph,
	"delete": socket.OpParagraphRemove,
}

// Commands the UI may emit that have no backend effect yet.
var (
	noteNoops = map[string]bool{
		"import-json": true, "run-before": true, "run-focused": true, "run-after": true,
		"save": true, "print": true, "show-toc": true, "show-version-control": true,
		"show-notbeook-info": true, "find-and-replace": true, "manage-permissions": true,
		"toggle-code": true, "toggle-output": true, "toggle-line-numbers": true,
	}
	paragraphNoops = map[string]bool{
		"toggle-code": true, "toggle-output": true, "toggle-line-numbers": true,
	}
)

type Manager struct {
	bus    *Bus
	sink   socket.Sink
	tabs   TabState
	sender Sender
	export func(*Tab) error
}

type ManagerOption func(*Manager)

// WithExporter handles the notebook export-json command.
func WithExporter(fn func(*Tab) error) ManagerOption {
	return func(m *Manager) {
		m.export = fn
	}
}

func NewManager(bus *Bus, sink socket.Sink, tabs TabState, sender Sender, opts ...ManagerOption) *Manager {
	m := &Manager{bus: bus, sink: sink, tabs: tabs, sender: sender}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Setup subscribes the manager to the show-tab, notebook and paragraph
// events.
func (m *Manager) Setup() {
	m.bus.On(EventShowTab, m.showTab)
	m.bus.On(EventNotebook, m.notebook)
	m.bus.On(EventParagraph, m.paragraph)
}

func (m *Manager) showTab(tabType string) {
	name := tabTitle(tabType)
	m.sink.Dispatch(ActionAddTab, &Tab{
		ID:   "zeppelin-system-" + name,
		Name: name,
		Type: tabType,
		Path: "/zeppelin-system/" + name,
	})
}

// tabTitle turns "interpreter-settings" into "Interpreter Settings". Only
// the first hyphen becomes a space.
func tabTitle(tabType string) string {
	s := strings.Replace(tabType, "-", " ", 1)

	var b strings.Builder
	start := true
	for _, r := range s {
		word := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
		switch {
		case word && start:
			b.WriteRune(unicode.ToUpper(r))
			start = false
		case word:
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
			start = true
		}
	}
	return b.String()
}

func (m *Manager) activeNotebook() *Tab {
	if m.tabs == nil {
		return nil
	}
	tab := m.tabs.CurrentTab()
	if tab == nil || tab.Type != TabTypeNotebook {
		return nil
	}
	return tab
}

func (m *Manager) notebook(cmd string) {
	tab := m.activeNotebook()
	if tab == nil {
		debug.Printf("Manager: notebook %s ignored, no active notebook", cmd)
		return
	}

	if cmd == "export-json" {
		if m.export == nil {
			log.Printf("Manager: export-json requested for %s but no exporter is configured", tab.ID)
			return
		}
		if err := m.export(tab); err != nil {
			log.Printf("Manager: export-json %s: %v", tab.ID, err)
		}
		return
	}

	if op, ok := noteOps[cmd]; ok {
		data := map[string]any{"id": tab.ID}
		switch op {
		case socket.OpRunAllParagraphs:
			data = map[string]any{"noteId": tab.ID}
		case socket.OpNewNote:
			data = map[string]any{}
		}
		m.send(op, data)
		return
	}

	if noteNoops[cmd] {
		debug.Printf("Manager: notebook %s has no backend effect", cmd)
		return
	}
	log.Printf("Manager: unknown notebook command %q", cmd)
}

func (m *Manager) paragraph(cmd string) {
	tab := m.activeNotebook()
	if tab == nil {
		debug.Printf("Manager: paragraph %s ignored, no active notebook", cmd)
		return
	}

	if op, ok := paragraphOps[cmd]; ok {
		if tab.ActiveParagraph == "" {
			log.Printf("Manager: paragraph %s ignored, no focused paragraph in %s", cmd, tab.ID)
			return
		}
		m.send(op, map[string]any{"id": tab.ActiveParagraph, "noteId": tab.ID})
		return
	}

	if paragraphNoops[cmd] {
		debug.Printf("Manager: paragraph %s has no backend effect", cmd)
		return
	}
	log.Printf("Manager: unknown paragraph command %q", cmd)
}

func (m *Manager) send(op socket.Op, data map[string]any) {
	if m.sender == nil {
		log.Printf("Manager: %s dropped, no connection", op)
		return
	}
	if err := m.sender.Send(socket.NewMessage(op, data), nil); err != nil {
		log.Printf("Manager: send %s: %v", op, err)
	}
}
