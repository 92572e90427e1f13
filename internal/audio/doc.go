// Package audio tracks playback of audio blocks.
//
// A Registry owns one native Handle per Key and enforces that at most one
// handle is playing at any time: Play pauses every other playing entry
// before starting its own. Playback state is kept in the registry, keyed by
// the stable message and block ids, and never written back into the
// conversation store.
//
// Per-key state machine:
//
//	idle -> loading -> ready -> playing <-> paused
//	playing -> ended -> (play) -> playing
//	any -> errored (terminal)
//
// Handles are created lazily on the first Play. Their observers are wired
// once, at construction, through the Observer passed to the Factory.
// Observers only take the registry's state lock, so a handle may invoke
// them synchronously from inside SetSource, Play or Seek.
package audio
