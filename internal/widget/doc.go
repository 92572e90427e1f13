// Package widget holds the client-owned interaction state of interactive
// content blocks.
//
// Server-sourced blocks are immutable; what the user is doing with them
// (which list items are ticked, what has been typed into a form) lives in
// controllers stored in a Table keyed by message and block id. Re-rendering
// or re-fetching a message therefore never loses or conflates that state.
//
// Controllers report the user's decision through a callback. What happens
// next (removing the block, appending an echo, sending a reply) belongs to
// the caller.
package widget
