// ABOUTME: Draft attachments selected or recorded before sending
// ABOUTME: Also builds file and location drafts

package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/2389/eagence-chat/internal/message"
)

// Draft errors
var (
	ErrNoDraft             = errors.New("no such draft")
	ErrLocationUnavailable = errors.New("location unavailable")
)

// Draft is one attachment waiting to be sent.
type Draft struct {
	// ID is assigned by Drafts.Add and never reused within a list.
	ID    string
	Block message.Block
	// Data is the raw content, nil for locations.
	Data []byte
}

// Playable reports whether an audio draft passed the decodability probe.
func (d Draft) Playable() bool {
	return d.Block.Kind == message.KindAudio && !d.Block.Err
}

// FromFile builds a draft from a picked file. The type comes from the file
// extension, falling back to content sniffing.
func FromFile(name string, data []byte) Draft {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	base, _, _ := strings.Cut(mimeType, ";")

	kind := message.KindDoc
	switch {
	case strings.HasPrefix(base, "image/"):
		kind = message.KindImage
	case strings.HasPrefix(base, "audio/"):
		kind = message.KindAudio
	case base == "application/pdf":
		kind = message.KindPDF
	}

	return Draft{
		Data: data,
		Block: message.Block{
			Kind:     kind,
			URL:      DataURL(base, data),
			MimeType: base,
			Name:     filepath.Base(name),
			Size:     int64(len(data)),
		},
	}
}

// Locator is the native geolocation facility.
type Locator interface {
	Locate(ctx context.Context) (latitude, longitude float64, err error)
}

// Locate asks the platform for the current position and builds a location
// draft.
func Locate(ctx context.Context, l Locator) (Draft, error) {
	lat, lon, err := l.Locate(ctx)
	if err != nil {
		return Draft{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}
	return Draft{Block: message.Block{
		Kind:      message.KindLocation,
		Latitude:  lat,
		Longitude: lon,
	}}, nil
}

// Drafts is the list of attachments the user selected.
type Drafts struct {
	mu    sync.Mutex
	items []Draft
	next  uint64
}

// Add appends d, giving it an id, and returns its index.
func (ds *Drafts) Add(d Draft) int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.next++
	d.ID = "d" + strconv.FormatUint(ds.next, 10)
	ds.items = append(ds.items, d)
	return len(ds.items) - 1
}

// Remove drops the draft at index i and returns it. Later drafts shift
// down but keep their ids.
func (ds *Drafts) Remove(i int) (Draft, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if i < 0 || i >= len(ds.items) {
		return Draft{}, ErrNoDraft
	}
	d := ds.items[i]
	ds.items = append(ds.items[:i:i], ds.items[i+1:]...)
	return d, nil
}

// Get returns the draft at index i.
func (ds *Drafts) Get(i int) (Draft, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if i < 0 || i >= len(ds.items) {
		return Draft{}, false
	}
	return ds.items[i], true
}

// Len returns the number of drafts.
func (ds *Drafts) Len() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return len(ds.items)
}

// Take empties the list and returns every draft it held.
func (ds *Drafts) Take() []Draft {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	items := ds.items
	ds.items = nil
	return items
}

// Restore puts drafts returned by Take back in front of anything added
// since, so a failed send loses nothing.
func (ds *Drafts) Restore(items []Draft) {
	if len(items) == 0 {
		return
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.items = append(append([]Draft(nil), items...), ds.items...)
}

// Sendable returns the blocks of drafts that can be sent. Errored drafts
// are left out.
func Sendable(items []Draft) []message.Block {
	var blocks []message.Block
	for _, d := range items {
		if d.Block.Err {
			continue
		}
		blocks = append(blocks, d.Block)
	}
	return blocks
}
