// ABOUTME: Conversation data model: messages, typed content blocks and their variant fields
// ABOUTME: Blocks are a tagged union keyed by Kind with stable per-message block IDs

package message

import (
	"fmt"
	"time"
)

// Kind tags the variant of a content block.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindPDF      Kind = "pdf"
	KindDoc      Kind = "doc"
	KindLocation Kind = "location"
	KindButton   Kind = "button"
	KindList     Kind = "list"
	KindForm     Kind = "form"
)

// Status is the delivery status of a user-originated message.
type Status string

const (
	StatusNone      Status = ""
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Selector controls how many list items may be selected.
type Selector string

const (
	SelectorUnique   Selector = "unique"
	SelectorMultiple Selector = "multiple"
)

// ParseSelector maps a wire selector to a Selector, defaulting to unique.
func ParseSelector(s string) Selector {
	if Selector(s) == SelectorMultiple {
		return SelectorMultiple
	}
	return SelectorUnique
}

// Button is one choice of an interactive button block.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type,omitempty"`
}

// ListItem is one row of an interactive list block.
type ListItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Field types that carry a format check on submit.
const (
	FieldTypeText  = "text"
	FieldTypeEmail = "email"
	FieldTypePhone = "phone"
)

// FormField describes one input of a dynamic form. Value is only the
// server-provided default; live values belong to the form controller.
type FormField struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Value    string `json:"value,omitempty"`
	Type     string `json:"type,omitempty"`
}

// FieldValue is a form field with the value the user submitted.
type FieldValue struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Block is one renderable unit within a message. Only the fields relevant to
// Kind are populated.
type Block struct {
	ID   string
	Kind Kind

	// Shared optional fields.
	Err  bool
	Name string
	Size int64

	// text
	Text string

	// image, audio, pdf, doc
	URL      string
	MimeType string
	Caption  string
	Duration float64 // audio length hint in seconds, 0 when unknown

	// location
	Latitude  float64
	Longitude float64
	Label     string

	// button, list
	Body      string
	Buttons   []Button
	ListItems []ListItem
	Selector  Selector

	// form
	FormFields  []FormField
	TypeRequest string
}

// Interactive reports whether the block expects a user answer.
func (b Block) Interactive() bool {
	return b.Kind == KindButton || b.Kind == KindList || b.Kind == KindForm
}

// Clone returns a copy of b whose slices do not alias b's.
func (b Block) Clone() Block {
	c := b
	if b.Buttons != nil {
		c.Buttons = append([]Button(nil), b.Buttons...)
	}
	if b.ListItems != nil {
		c.ListItems = append([]ListItem(nil), b.ListItems...)
	}
	if b.FormFields != nil {
		c.FormFields = append([]FormField(nil), b.FormFields...)
	}
	return c
}

// Message is one entry of the conversation log.
type Message struct {
	ID        string
	IsUser    bool
	Timestamp time.Time
	Blocks    []Block
	Loading   bool
	Status    Status
}

// New builds a message and assigns stable block IDs.
func New(id string, isUser bool, ts time.Time, blocks ...Block) Message {
	m := Message{
		ID:        id,
		IsUser:    isUser,
		Timestamp: ts,
		Blocks:    make([]Block, len(blocks)),
	}
	for i, b := range blocks {
		if b.ID == "" {
			b.ID = BlockID(id, i)
		}
		m.Blocks[i] = b
	}
	return m
}

// BlockID returns the stable identifier of the n-th block created for a message.
func BlockID(messageID string, n int) string {
	return fmt.Sprintf("%s#%d", messageID, n)
}

// Block returns the block at index i and whether it exists.
func (m Message) Block(i int) (Block, bool) {
	if i < 0 || i >= len(m.Blocks) {
		return Block{}, false
	}
	return m.Blocks[i], true
}

// IndexOf returns the current index of the block with the given ID, or -1.
func (m Message) IndexOf(blockID string) int {
	for i, b := range m.Blocks {
		if b.ID == blockID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	c := m
	c.Blocks = make([]Block, len(m.Blocks))
	for i, b := range m.Blocks {
		c.Blocks[i] = b.Clone()
	}
	return c
}

// TextBlock is a convenience constructor for a text block.
func TextBlock(text string) Block {
	return Block{Kind: KindText, Text: text}
}
