// Package message defines the conversation data model shared by the decoder,
// the conversation store, the controllers and the outbound pipeline.
//
// A Message is an ordered list of typed content Blocks. Block order is the
// display order, so an index into Blocks is a handle that interaction
// callbacks pass back to the store. Every block also carries a stable ID so
// client-owned interaction state (audio playback, list selection, form
// values) can be kept in side tables that survive block removal.
package message
