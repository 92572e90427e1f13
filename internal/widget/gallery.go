// ABOUTME: Image gallery over the image blocks of one message
// ABOUTME: Open selects an image; Next and Prev wrap around

package widget

import (
	"sync"

	"github.com/2389/eagence-chat/internal/message"
)

// Gallery is a lightbox over a message's images.
type Gallery struct {
	mu     sync.Mutex
	images []message.Block
	index  int
	open   bool
}

// NewGallery collects the image blocks of msg.
func NewGallery(msg message.Message) *Gallery {
	g := &Gallery{}
	for _, b := range msg.Blocks {
		if b.Kind == message.KindImage && !b.Err {
			g.images = append(g.images, b)
		}
	}
	return g
}

// Len returns the number of images.
func (g *Gallery) Len() int {
	return len(g.images)
}

// Open shows the image with the given block id.
func (g *Gallery) Open(blockID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, b := range g.images {
		if b.ID == blockID {
			g.index = i
			g.open = true
			return true
		}
	}
	return false
}

// Current returns the shown image.
func (g *Gallery) Current() (message.Block, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return message.Block{}, false
	}
	return g.images[g.index], true
}

// Next advances to the following image.
func (g *Gallery) Next() {
	g.step(1)
}

// Prev goes back to the previous image.
func (g *Gallery) Prev() {
	g.step(-1)
}

func (g *Gallery) step(d int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return
	}
	n := len(g.images)
	g.index = ((g.index+d)%n + n) % n
}

// Close hides the gallery.
func (g *Gallery) Close() {
	g.mu.Lock()
	g.open = false
	g.mu.Unlock()
}
