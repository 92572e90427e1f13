// Package dedupe provides a bounded window of recently seen keys, used to
// drop broker redeliveries before they reach the conversation store.
package dedupe
