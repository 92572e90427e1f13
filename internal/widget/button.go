// ABOUTME: Button controller: a press is reported immediately, nothing is disabled locally
// ABOUTME: Also the location link helper for location blocks

package widget

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/2389/eagence-chat/internal/message"
)

// ErrUnknownButton is returned when pressing a button the block does not have.
var ErrUnknownButton = errors.New("unknown button")

// Buttons reports presses on one button block.
type Buttons struct {
	buttons []message.Button
	onPress func(message.Button)
}

// NewButtons creates a controller for block.
func NewButtons(block message.Block, onPress func(message.Button)) *Buttons {
	return &Buttons{
		buttons: append([]message.Button(nil), block.Buttons...),
		onPress: onPress,
	}
}

// Buttons returns the choices in display order.
func (b *Buttons) Buttons() []message.Button {
	return b.buttons
}

// Press signals the callback with the chosen button.
func (b *Buttons) Press(buttonID string) error {
	for _, btn := range b.buttons {
		if btn.ID == buttonID {
			if b.onPress != nil {
				b.onPress(btn)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownButton, buttonID)
}

// MapsURL returns a link that opens a location block in a map.
func MapsURL(block message.Block) string {
	q := strconv.FormatFloat(block.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(block.Longitude, 'f', -1, 64)
	return "https://www.google.com/maps/search/?api=1&query=" + url.QueryEscape(q)
}
