// ABOUTME: Closed-enum classification of inbound envelopes and conversion to messages
// ABOUTME: First matching predicate wins; unmatched envelopes are Unrecognized

package inbound

import (
	"strings"
	"time"

	"github.com/2389/eagence-chat/internal/message"
)

// Kind is the variant an envelope was classified as.
type Kind int

const (
	Unrecognized Kind = iota
	Text
	Button
	List
	ListReply
	Form
	Image
	Audio
	Document
	Location
)

var kindNames = [...]string{
	Unrecognized: "unrecognized",
	Text:         "text",
	Button:       "button",
	List:         "list",
	ListReply:    "list_reply",
	Form:         "form",
	Image:        "image",
	Audio:        "audio",
	Document:     "document",
	Location:     "location",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Wire type tags.
const (
	TypeText      = "TEXT"
	TypeButton    = "INTERACTIVE_BUTTON"
	TypeList      = "INTERACTIVE_LIST"
	TypeListReply = "INTERACTIVE_LIST_REPLY"
	TypeForm      = "FORMS_REQUEST"
	TypeImage     = "IMAGE"
	TypeAudio     = "AUDIO"
	TypeDocument  = "DOCUMENT"
	TypeLocation  = "LOCATION"
)

type predicate struct {
	kind  Kind
	match func(p *Payload) bool
}

// predicates in priority order.
var predicates = []predicate{
	{Button, func(p *Payload) bool {
		return is(p, TypeButton) && p.Interactive != nil && len(p.Interactive.Action.Buttons) > 0
	}},
	{List, func(p *Payload) bool {
		return is(p, TypeList) && p.Interactive != nil && len(p.Interactive.Action.Items) > 0
	}},
	{ListReply, func(p *Payload) bool {
		return is(p, TypeListReply) && len(p.ListReply) > 0
	}},
	{Form, func(p *Payload) bool {
		return is(p, TypeForm) && p.Forms != nil && len(p.Forms.Fields) > 0
	}},
	{Location, func(p *Payload) bool {
		return is(p, TypeLocation) && p.Location != nil && p.Location.Latitude != nil && p.Location.Longitude != nil
	}},
	{Image, func(p *Payload) bool { return is(p, TypeImage) && hasMedia(p) }},
	{Audio, func(p *Payload) bool { return is(p, TypeAudio) && hasMedia(p) }},
	{Document, func(p *Payload) bool { return is(p, TypeDocument) && hasMedia(p) }},
	{Text, func(p *Payload) bool {
		return is(p, TypeText) && strings.TrimSpace(string(p.Text)) != ""
	}},
}

func is(p *Payload, tag string) bool {
	return strings.EqualFold(strings.TrimSpace(p.Type), tag)
}

func hasMedia(p *Payload) bool {
	return p.Media != nil && p.Media.URL != ""
}

// Classify returns the Kind of env.
func Classify(env *Envelope) Kind {
	if env == nil {
		return Unrecognized
	}
	p := env.Payload()
	if p == nil {
		return Unrecognized
	}
	for _, pr := range predicates {
		if pr.match(p) {
			return pr.kind
		}
	}
	return Unrecognized
}

// LocalID derives the conversation message id for a server id and kind.
func LocalID(serverID string, kind Kind) string {
	switch kind {
	case List:
		return serverID + "-list"
	case Form:
		return serverID + "-form"
	case ListReply:
		return serverID
	default:
		return serverID + "-bot"
	}
}

// ServerID recovers the server message id from a local id built by LocalID.
// Ids without a role suffix are returned unchanged.
func ServerID(localID string) string {
	for _, suffix := range []string{"-bot", "-list", "-form"} {
		if id, ok := strings.CutSuffix(localID, suffix); ok {
			return id
		}
	}
	return localID
}

// Decoded is the result of decoding one envelope.
type Decoded struct {
	Kind     Kind
	ServerID string
	// Message is the conversation message to append. Zero for Unrecognized.
	Message message.Message
}

// Decode parses, classifies and converts a raw payload. Unrecognized
// envelopes are not an error: Kind reports Unrecognized and Message is zero.
func Decode(raw []byte, now time.Time) (Decoded, error) {
	env, err := Parse(raw)
	if err != nil {
		return Decoded{}, err
	}
	kind := Classify(env)
	d := Decoded{Kind: kind, ServerID: string(env.Data.MessageID)}
	if kind == Unrecognized {
		return d, nil
	}
	d.Message = Build(env, kind, now)
	return d, nil
}

// Build converts a classified envelope into a message. kind must be the
// result of Classify(env).
func Build(env *Envelope, kind Kind, now time.Time) message.Message {
	p := env.Payload()
	id := LocalID(string(env.Data.MessageID), kind)

	switch kind {
	case Text:
		return message.New(id, false, now, message.TextBlock(string(p.Text)))

	case Button:
		btn := message.Block{Kind: message.KindButton, Buttons: buttons(p.Interactive.Action.Buttons)}
		if body := p.Interactive.Body.Text; body != "" {
			return message.New(id, false, now, message.TextBlock(body), btn)
		}
		return message.New(id, false, now, btn)

	case List:
		return message.New(id, false, now, message.Block{
			Kind:      message.KindList,
			Body:      p.Interactive.Body.Text,
			ListItems: listItems(p.Interactive.Action.Items),
			Selector:  message.ParseSelector(p.Interactive.Action.Selector),
		})

	case ListReply:
		m := message.New(id, true, now, echoBlock(listItems(p.ListReply)))
		m.Status = message.StatusDelivered
		return m

	case Form:
		return message.New(id, false, now, message.Block{
			Kind:        message.KindForm,
			FormFields:  formFields(p.Forms.Fields),
			TypeRequest: p.Forms.TypeRequest,
		})

	case Location:
		return message.New(id, false, now, message.Block{
			Kind:      message.KindLocation,
			Latitude:  *p.Location.Latitude,
			Longitude: *p.Location.Longitude,
			Label:     p.Location.Label,
		})

	case Image, Audio, Document:
		return message.New(id, false, now, mediaBlock(kind, p.Media))
	}

	return message.Message{}
}

// echoBlock renders a list reply as the text the user chose.
func echoBlock(items []message.ListItem) message.Block {
	titles := make([]string, len(items))
	for i, it := range items {
		titles[i] = it.Title
	}
	return message.TextBlock(strings.Join(titles, ", "))
}

func mediaBlock(kind Kind, m *Media) message.Block {
	b := message.Block{
		URL:      m.URL,
		MimeType: m.MimeType,
		Caption:  m.Caption,
		Name:     m.Name,
		Size:     m.Size,
	}
	switch kind {
	case Image:
		b.Kind = message.KindImage
	case Audio:
		b.Kind = message.KindAudio
		b.Duration = m.Duration
	default:
		b.Kind = DocumentKind(m.MimeType, m.Name)
	}
	return b
}

// DocumentKind picks pdf or doc for a document attachment.
func DocumentKind(mimeType, name string) message.Kind {
	if strings.EqualFold(mimeType, "application/pdf") || strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return message.KindPDF
	}
	return message.KindDoc
}

func buttons(in []WireButton) []message.Button {
	out := make([]message.Button, len(in))
	for i, b := range in {
		out[i] = message.Button{ID: string(b.ID), Title: b.Title, Type: b.Type}
	}
	return out
}

func listItems(in []ListItem) []message.ListItem {
	out := make([]message.ListItem, len(in))
	for i, it := range in {
		out[i] = message.ListItem{ID: string(it.ID), Title: it.Title, Description: it.Description}
	}
	return out
}

func formFields(in []FormField) []message.FormField {
	out := make([]message.FormField, len(in))
	for i, f := range in {
		out[i] = message.FormField{
			ID:       string(f.ID),
			Name:     f.Name,
			Required: f.Required,
			Value:    f.Value,
			Type:     strings.ToLower(f.Type),
		}
	}
	return out
}
