// Package chat assembles a live conversation.
//
// # Overview
//
// A Session owns everything one signed-in user needs to chat with the bot:
//
//   - the decoded session token and the broker topic it implies
//   - the broker connection, replaced wholesale when the topic changes
//   - the conversation store, fed by the inbound decoder
//   - the interaction side tables (audio playback, list, form, button)
//   - the outbound pipeline and the draft attachments
//
// # Inbound
//
// Every broker payload goes through inbound.Decode. Unrecognized shapes and
// redeliveries are dropped with a debug log. A list-reply echo marks the
// user's optimistic message delivered. Any newly appended bot message
// clears the pipeline's waiting flag.
//
// # Intents
//
// Pressing a button or confirming a list removes that block from its message
// and appends a local echo before the reply leaves. If the block is already
// gone the intent is a silent no-op. Submitted forms stay in place as a
// receipt.
package chat
