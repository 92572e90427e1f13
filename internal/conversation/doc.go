// Package conversation holds the ordered conversation log.
//
// # Overview
//
// Store is the single source of truth for the messages shown in the chat
// view. It enforces one invariant at append time: no two messages share an
// ID. Appending a known ID is a silent no-op, which is what absorbs broker
// redeliveries after a reconnect.
//
// # Mutations
//
// All mutations follow a copy-on-write discipline. A mutation builds a new
// message slice in which exactly one message differs, and within that
// message a new block slice in which exactly one block differs:
//
//   - Append(msg): add a message (de-duplicating by ID)
//   - MutateBlock(id, i, patch): edit one block in place
//   - RemoveBlock(id, i): strip one block (answered buttons and lists)
//   - SetStatus(id, status): advance delivery status
//
// Removing a block renumbers the blocks after it. Callers must not reuse a
// block index across generations; block IDs are stable and can be used
// instead.
//
// # Events
//
// Subscribe returns a channel of change events so views can re-render:
//
//	events := store.Subscribe(ctx)
//	for ev := range events {
//	    render(store.Snapshot())
//	}
//
// Publishing never blocks; a slow subscriber drops events.
package conversation
