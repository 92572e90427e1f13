// ABOUTME: Wire envelope for user messages sent to the inbound webhook and the outbound topic
// ABOUTME: One builder per reply type; attachments become their own envelopes

package outbound

import (
	"time"

	"github.com/2389/eagence-chat/internal/message"
)

// Message types
const (
	TypeText        = "TEXT"
	TypeButtonReply = "INTERACTIVE_BUTTON_REPLY"
	TypeListReply   = "INTERACTIVE_LIST_REPLY"
	TypeFormReply   = "REPLY_FORMS_REQUEST"
	TypeImage       = "IMAGE"
	TypeAudio       = "AUDIO"
	TypeDocument    = "DOCUMENT"
	TypeLocation    = "LOCATION"
)

// timeLayout is ISO 8601 with milliseconds.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Envelope is the payload posted to the webhook and published on the
// outbound topic.
type Envelope struct {
	From            string `json:"from"`
	IntegrationType string `json:"integrationType"`
	ReceivedAt      string `json:"receivedAt"`
	MessageID       string `json:"messageId"`
	URLWebhook      string `json:"UrlWebhook"`
	Message         Body   `json:"message"`
}

// Body is the typed message inside an Envelope.
type Body struct {
	Type        string             `json:"type"`
	Text        *Text              `json:"text,omitempty"`
	ButtonReply *ButtonReply       `json:"button_reply,omitempty"`
	ListReply   []message.ListItem `json:"list_reply,omitempty"`
	FormReply   *FormReply         `json:"form_reply,omitempty"`
	Media       *Media             `json:"media,omitempty"`
	Location    *Location          `json:"location,omitempty"`
	Context     *Context           `json:"context,omitempty"`
}

// Text is a free-text body.
type Text struct {
	Body string `json:"body"`
}

// ButtonReply is the button the user pressed.
type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// FormReply carries every submitted field.
type FormReply struct {
	TypeRequest string               `json:"typeRequest"`
	Fields      []message.FieldValue `json:"fields"`
}

// Media is an attachment. URL may be a data: URL for captured audio.
type Media struct {
	URL      string  `json:"url"`
	MimeType string  `json:"mime_type,omitempty"`
	Caption  string  `json:"caption,omitempty"`
	Name     string  `json:"name,omitempty"`
	Size     int64   `json:"size,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Location is a shared position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label,omitempty"`
}

// Context links a reply to the bot message it answers.
type Context struct {
	MessageID string `json:"message_id"`
}

// header holds the fields shared by every envelope of one send.
type header struct {
	from            string
	integrationType string
	callbackURL     string
}

func (h header) envelope(id string, at time.Time, body Body) Envelope {
	return Envelope{
		From:            h.from,
		IntegrationType: h.integrationType,
		ReceivedAt:      at.UTC().Format(timeLayout),
		MessageID:       id,
		URLWebhook:      h.callbackURL,
		Message:         body,
	}
}

func replyContext(inReplyTo string) *Context {
	if inReplyTo == "" {
		return nil
	}
	return &Context{MessageID: inReplyTo}
}

// attachmentBody converts a draft block into an envelope body. ok is false
// for kinds that cannot be sent as attachments.
func attachmentBody(b message.Block) (Body, bool) {
	switch b.Kind {
	case message.KindLocation:
		return Body{Type: TypeLocation, Location: &Location{
			Latitude:  b.Latitude,
			Longitude: b.Longitude,
			Label:     b.Label,
		}}, true
	case message.KindImage, message.KindAudio, message.KindPDF, message.KindDoc:
		typ := TypeDocument
		switch b.Kind {
		case message.KindImage:
			typ = TypeImage
		case message.KindAudio:
			typ = TypeAudio
		}
		return Body{Type: typ, Media: &Media{
			URL:      b.URL,
			MimeType: b.MimeType,
			Caption:  b.Caption,
			Name:     b.Name,
			Size:     b.Size,
			Duration: b.Duration,
		}}, true
	}
	return Body{}, false
}
