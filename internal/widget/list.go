// ABOUTME: List controller: unique or multiple selection over a list block
// ABOUTME: Confirmation is refused while nothing is selected

package widget

import (
	"errors"
	"slices"
	"sync"

	"github.com/2389/eagence-chat/internal/message"
)

// List errors
var (
	ErrEmptySelection = errors.New("nothing selected")
	ErrUnknownItem    = errors.New("unknown list item")
	ErrConfirmed      = errors.New("list already confirmed")
)

// List tracks the selection of one list block.
type List struct {
	mu        sync.Mutex
	items     []message.ListItem
	selector  message.Selector
	selected  []string // item ids, click order
	confirmed bool
	onConfirm func([]message.ListItem)
}

// NewList creates a controller for block. onConfirm receives the selected
// items; only set membership is meaningful, not their order.
func NewList(block message.Block, onConfirm func([]message.ListItem)) *List {
	return &List{
		items:     append([]message.ListItem(nil), block.ListItems...),
		selector:  block.Selector,
		onConfirm: onConfirm,
	}
}

// Select applies a click on itemID. A unique list replaces the selection; a
// multiple list toggles the item in or out.
func (l *List) Select(itemID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.confirmed {
		return ErrConfirmed
	}
	if l.item(itemID) < 0 {
		return ErrUnknownItem
	}

	if l.selector == message.SelectorMultiple {
		if i := slices.Index(l.selected, itemID); i >= 0 {
			l.selected = slices.Delete(l.selected, i, i+1)
		} else {
			l.selected = append(l.selected, itemID)
		}
		return nil
	}

	l.selected = []string{itemID}
	return nil
}

// IsSelected reports whether itemID is selected.
func (l *List) IsSelected(itemID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Contains(l.selected, itemID)
}

// Selected returns the selected items.
func (l *List) Selected() []message.ListItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selectedItems()
}

// CanConfirm reports whether the confirm control should be shown.
func (l *List) CanConfirm() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.confirmed && len(l.selected) > 0
}

// Confirm hands the selection to the callback. It is irreversible.
func (l *List) Confirm() error {
	l.mu.Lock()
	if l.confirmed {
		l.mu.Unlock()
		return ErrConfirmed
	}
	if len(l.selected) == 0 {
		l.mu.Unlock()
		return ErrEmptySelection
	}
	l.confirmed = true
	items := l.selectedItems()
	cb := l.onConfirm
	l.mu.Unlock()

	if cb != nil {
		cb(items)
	}
	return nil
}

// Items returns the list rows.
func (l *List) Items() []message.ListItem {
	return l.items
}

// Multiple reports whether more than one item may be selected.
func (l *List) Multiple() bool {
	return l.selector == message.SelectorMultiple
}

func (l *List) item(id string) int {
	return slices.IndexFunc(l.items, func(it message.ListItem) bool { return it.ID == id })
}

func (l *List) selectedItems() []message.ListItem {
	out := make([]message.ListItem, 0, len(l.selected))
	for _, id := range l.selected {
		out = append(out, l.items[l.item(id)])
	}
	return out
}
