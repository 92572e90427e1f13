// ABOUTME: Wire shapes of inbound broker envelopes and their tolerant JSON decoding
// ABOUTME: message_id may arrive as a string or a number, text as a string or {body}

package inbound

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Decoding errors
var (
	ErrMalformed   = errors.New("malformed envelope")
	ErrNoMessageID = errors.New("envelope has no message_id")
)

// Envelope is the outer broker payload.
type Envelope struct {
	Data Data `json:"data"`
}

// Data holds the server message id and the message, which some producers
// nest under response.
type Data struct {
	MessageID ID        `json:"message_id"`
	Response  *Response `json:"response,omitempty"`
	Message   *Payload  `json:"message,omitempty"`
}

// Response wraps a bot answer.
type Response struct {
	Message *Payload `json:"message"`
}

// Payload returns the inner message, preferring data.response.message.
func (e *Envelope) Payload() *Payload {
	if e.Data.Response != nil && e.Data.Response.Message != nil {
		return e.Data.Response.Message
	}
	return e.Data.Message
}

// ID is a server message id. Some producers send it as a JSON number.
type ID string

// UnmarshalJSON accepts strings and numbers.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("message_id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Payload is the inner message of an envelope. Only the fields relevant to
// Type are populated.
type Payload struct {
	Type        string       `json:"type"`
	Text        TextBody     `json:"text"`
	Interactive *Interactive `json:"interactive,omitempty"`
	ListReply   []ListItem   `json:"list_reply,omitempty"`
	Forms       *Forms       `json:"forms,omitempty"`
	Media       *Media       `json:"media,omitempty"`
	Location    *Point       `json:"location,omitempty"`
}

// TextBody is either a bare string or an object with a body.
type TextBody string

// UnmarshalJSON accepts "..." and {"body":"..."}.
func (t *TextBody) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*t = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = TextBody(s)
		return nil
	default:
		var obj struct {
			Body string `json:"body"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return fmt.Errorf("text: %w", err)
		}
		*t = TextBody(obj.Body)
		return nil
	}
}

// Interactive carries the prompt and the choices of a button or list push.
type Interactive struct {
	Body struct {
		Text string `json:"text"`
	} `json:"body"`
	Action struct {
		Buttons  []WireButton `json:"buttons,omitempty"`
		Selector string       `json:"selector,omitempty"`
		Items    []ListItem   `json:"items,omitempty"`
	} `json:"action"`
}

// WireButton is a button as sent by the bot.
type WireButton struct {
	ID    ID     `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type,omitempty"`
}

// ListItem is a wire list row.
type ListItem struct {
	ID          ID     `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Forms is a dynamic form request.
type Forms struct {
	TypeRequest string      `json:"typeRequest"`
	Fields      []FormField `json:"fields"`
}

// FormField is a wire form field.
type FormField struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Value    string `json:"value,omitempty"`
	Type     string `json:"type,omitempty"`
}

// Media is an attachment pushed by the bot.
type Media struct {
	URL      string  `json:"url"`
	MimeType string  `json:"mime_type,omitempty"`
	Caption  string  `json:"caption,omitempty"`
	Name     string  `json:"name,omitempty"`
	Size     int64   `json:"size,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Point is a location pushed by the bot. Coordinates are pointers so that a
// missing coordinate is distinguishable from 0.
type Point struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Label     string   `json:"label,omitempty"`
}

// Parse decodes a raw broker payload into an Envelope.
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Data.MessageID == "" {
		return nil, ErrNoMessageID
	}
	return &env, nil
}
