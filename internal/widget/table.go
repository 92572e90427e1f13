// ABOUTME: Side table of interaction controllers keyed by message and block id
// ABOUTME: Controllers are created on first use and dropped when their block goes away

package widget

import (
	"sync"

	"github.com/2389/eagence-chat/internal/message"
)

// Key identifies one content block.
type Key struct {
	MessageID string
	BlockID   string
}

// Table holds the controllers of every interactive block on screen.
type Table struct {
	mu      sync.Mutex
	lists   map[Key]*List
	forms   map[Key]*Form
	buttons map[Key]*Buttons
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		lists:   make(map[Key]*List),
		forms:   make(map[Key]*Form),
		buttons: make(map[Key]*Buttons),
	}
}

// List returns the list controller for key, creating it from block.
func (t *Table) List(key Key, block message.Block, onConfirm func([]message.ListItem)) *List {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.lists[key]; ok {
		return l
	}
	l := NewList(block, onConfirm)
	t.lists[key] = l
	return l
}

// Form returns the form controller for key, creating it from block.
func (t *Table) Form(key Key, block message.Block, onSubmit func(string, []message.FieldValue)) *Form {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.forms[key]; ok {
		return f
	}
	f := NewForm(block, onSubmit)
	t.forms[key] = f
	return f
}

// Buttons returns the button controller for key, creating it from block.
func (t *Table) Buttons(key Key, block message.Block, onPress func(message.Button)) *Buttons {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.buttons[key]; ok {
		return b
	}
	b := NewButtons(block, onPress)
	t.buttons[key] = b
	return b
}

// Lookup returns whichever controller exists for key.
func (t *Table) Lookup(key Key) (list *List, form *Form, buttons *Buttons) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lists[key], t.forms[key], t.buttons[key]
}

// Drop forgets the controllers of key.
func (t *Table) Drop(key Key) {
	t.mu.Lock()
	delete(t.lists, key)
	delete(t.forms, key)
	delete(t.buttons, key)
	t.mu.Unlock()
}

// Len returns the number of live controllers.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lists) + len(t.forms) + len(t.buttons)
}
