// ABOUTME: Audio registry: lazy native handles per block with a single-player invariant
// ABOUTME: Playback state lives here in a side table keyed by message and block id

package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Registry errors
var (
	// ErrUnavailable is returned for a block whose audio failed. Errored
	// blocks never touch their handle again.
	ErrUnavailable = errors.New("audio unavailable")
	// ErrUnknownDuration is returned when seeking before metadata arrived.
	ErrUnknownDuration = errors.New("audio duration unknown")
	// ErrClosed is returned by operations on a closed registry.
	ErrClosed = errors.New("audio registry closed")
)

// Key identifies one audio block.
type Key struct {
	MessageID string
	BlockID   string
}

const previewMessageID = "preview"

// PreviewKey returns the key of an unsent draft attachment. draftID must
// stay the same while the draft exists, whatever its position in the list.
func PreviewKey(draftID string) Key {
	return Key{MessageID: previewMessageID, BlockID: draftID}
}

// IsPreview reports whether k belongs to a draft attachment.
func (k Key) IsPreview() bool {
	return k.MessageID == previewMessageID
}

func (k Key) String() string {
	return k.MessageID + "/" + k.BlockID
}

// Phase is a step of the playback state machine.
type Phase int

const (
	Idle Phase = iota
	Loading
	Ready
	Playing
	Paused
	Ended
	Errored
)

var phaseNames = [...]string{"idle", "loading", "ready", "playing", "paused", "ended", "errored"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// State is the playback state of one key.
type State struct {
	Phase       Phase
	CurrentTime float64 // seconds
	Duration    float64 // seconds, 0 until metadata or a hint is known
	Progress    float64 // percent, CurrentTime / Duration * 100
	Err         error
}

// IsPlaying reports whether the key is the one currently playing.
func (s State) IsPlaying() bool {
	return s.Phase == Playing
}

// Observer receives native playback events for one handle.
type Observer struct {
	OnError          func(err error)
	OnLoadedMetadata func(duration float64)
	OnTimeUpdate     func(currentTime float64)
	OnEnded          func()
}

// Handle is a native audio player.
type Handle interface {
	SetSource(src string) error
	Play() error
	Pause()
	Seek(seconds float64) error
	Close()
}

// Factory builds a handle whose events are reported to obs.
type Factory func(obs Observer) (Handle, error)

type entry struct {
	handle Handle
	state  State
}

// Registry maps keys to native handles.
type Registry struct {
	factory Factory
	logger  *slog.Logger

	// op serializes operations that call into handles; mu guards the table
	// and is the only lock observers take.
	op sync.Mutex
	mu sync.Mutex

	entries   map[Key]*entry
	listeners []func(Key, State)
	closed    bool
}

// NewRegistry creates a registry that builds handles with factory.
func NewRegistry(factory Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory: factory,
		logger:  logger.With("component", "audio"),
		entries: make(map[Key]*entry),
	}
}

// OnChange registers fn to be called after any key's state changes. fn may
// run while a registry operation is in progress and must not call back into
// the registry.
func (r *Registry) OnChange(fn func(Key, State)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Hint records a server-provided duration so progress and seeking work
// before metadata loads. It never overrides a loaded duration.
func (r *Registry) Hint(key Key, duration float64) {
	if duration <= 0 {
		return
	}
	r.mu.Lock()
	e := r.entryLocked(key)
	if e.state.Duration == 0 {
		e.state.Duration = duration
	}
	r.mu.Unlock()
}

// Play starts key, pausing every other playing key first. The handle is
// created and given src on the first call.
func (r *Registry) Play(key Key, src string) error {
	r.op.Lock()
	defer r.op.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	e := r.entryLocked(key)
	if e.state.Phase == Errored {
		r.mu.Unlock()
		return ErrUnavailable
	}
	if e.state.Phase == Playing {
		r.mu.Unlock()
		return nil
	}
	needsHandle := e.handle == nil
	restart := e.state.Phase == Ended
	r.mu.Unlock()

	if needsHandle {
		if err := r.load(key, e, src); err != nil {
			return err
		}
	}

	r.pauseOthers(key)

	if restart {
		if err := e.handle.Seek(0); err != nil {
			return r.fail(key, fmt.Errorf("rewinding: %w", err))
		}
		r.update(key, func(s *State) {
			s.CurrentTime = 0
			s.Progress = 0
		})
	}

	if err := e.handle.Play(); err != nil {
		return r.fail(key, fmt.Errorf("starting playback: %w", err))
	}

	// An observer may have failed the key while Play ran.
	var err error
	r.update(key, func(s *State) {
		if s.Phase == Errored {
			err = ErrUnavailable
			return
		}
		s.Phase = Playing
	})
	return err
}

// load builds the handle for key and sets its source.
func (r *Registry) load(key Key, e *entry, src string) error {
	r.update(key, func(s *State) { s.Phase = Loading })

	h, err := r.factory(r.observer(key))
	if err != nil {
		return r.fail(key, fmt.Errorf("creating player: %w", err))
	}
	r.mu.Lock()
	e.handle = h
	r.mu.Unlock()

	if err := h.SetSource(src); err != nil {
		return r.fail(key, fmt.Errorf("loading source: %w", err))
	}

	r.mu.Lock()
	phase := e.state.Phase
	r.mu.Unlock()
	if phase == Errored {
		return ErrUnavailable
	}
	r.logger.Debug("audio handle created", "key", key.String())
	return nil
}

func (r *Registry) pauseOthers(key Key) {
	r.mu.Lock()
	var playing []Key
	for k, e := range r.entries {
		if k != key && e.state.Phase == Playing {
			playing = append(playing, k)
		}
	}
	r.mu.Unlock()

	for _, k := range playing {
		r.pauseLocked(k)
	}
}

// Pause pauses key if it is playing.
func (r *Registry) Pause(key Key) {
	r.op.Lock()
	defer r.op.Unlock()
	r.pauseLocked(key)
}

// pauseLocked requires r.op.
func (r *Registry) pauseLocked(key Key) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.state.Phase != Playing || e.handle == nil {
		r.mu.Unlock()
		return
	}
	h := e.handle
	r.mu.Unlock()

	h.Pause()
	r.update(key, func(s *State) {
		if s.Phase == Playing {
			s.Phase = Paused
		}
	})
}

// Toggle pauses key when it is playing and plays it otherwise.
func (r *Registry) Toggle(key Key, src string) error {
	if r.State(key).IsPlaying() {
		r.Pause(key)
		return nil
	}
	return r.Play(key, src)
}

// SeekFraction moves key to fraction (clamped to [0,1]) of its duration.
func (r *Registry) SeekFraction(key Key, fraction float64) error {
	r.op.Lock()
	defer r.op.Unlock()

	fraction = min(max(fraction, 0), 1)

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.handle == nil {
		r.mu.Unlock()
		return ErrUnknownDuration
	}
	if e.state.Phase == Errored {
		r.mu.Unlock()
		return ErrUnavailable
	}
	duration := e.state.Duration
	h := e.handle
	r.mu.Unlock()

	if duration <= 0 {
		return ErrUnknownDuration
	}
	target := fraction * duration
	if err := h.Seek(target); err != nil {
		return fmt.Errorf("seeking: %w", err)
	}
	r.update(key, func(s *State) {
		s.CurrentTime = target
		s.Progress = fraction * 100
	})
	return nil
}

// State returns the playback state of key. Unknown keys are Idle.
func (r *Registry) State(key Key) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e.state
	}
	return State{}
}

// Current returns the key that is playing, if any.
func (r *Registry) Current() (Key, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.entries {
		if e.state.Phase == Playing {
			return k, true
		}
	}
	return Key{}, false
}

// Forget closes and drops the handle of key, for blocks that left the view.
func (r *Registry) Forget(key Key) {
	r.op.Lock()
	defer r.op.Unlock()

	r.mu.Lock()
	e, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()

	if ok && e.handle != nil {
		e.handle.Pause()
		e.handle.Close()
	}
}

// Close pauses and releases every handle. The registry is unusable after.
func (r *Registry) Close() {
	r.op.Lock()
	defer r.op.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[Key]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		if e.handle != nil {
			e.handle.Pause()
			e.handle.Close()
		}
	}
	r.logger.Debug("audio registry closed", "handles", len(entries))
}

// observer builds the callbacks wired into key's handle.
func (r *Registry) observer(key Key) Observer {
	return Observer{
		OnError: func(err error) {
			r.logger.Warn("audio playback error", "key", key.String(), "error", err)
			r.update(key, func(s *State) {
				s.Phase = Errored
				s.Err = err
			})
		},
		OnLoadedMetadata: func(duration float64) {
			r.update(key, func(s *State) {
				if duration > 0 {
					s.Duration = duration
				}
				if s.Phase == Loading {
					s.Phase = Ready
				}
			})
		},
		OnTimeUpdate: func(currentTime float64) {
			r.update(key, func(s *State) {
				s.CurrentTime = currentTime
				if s.Duration > 0 {
					s.Progress = currentTime / s.Duration * 100
				}
			})
		},
		OnEnded: func() {
			r.update(key, func(s *State) {
				if s.Phase == Errored {
					return
				}
				s.Phase = Ended
				s.Progress = 100
			})
		},
	}
}

func (r *Registry) fail(key Key, err error) error {
	r.logger.Warn("audio unavailable", "key", key.String(), "error", err)
	r.update(key, func(s *State) {
		s.Phase = Errored
		s.Err = err
	})
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// update applies fn to key's state under mu and notifies listeners after.
// Keys dropped by Forget or Close are not resurrected.
func (r *Registry) update(key Key, fn func(*State)) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	before := e.state
	fn(&e.state)
	after := e.state
	listeners := r.listeners
	r.mu.Unlock()

	if before == after {
		return
	}
	for _, fn := range listeners {
		fn(key, after)
	}
}

// entryLocked returns key's entry, creating an idle one. Requires r.mu.
func (r *Registry) entryLocked(key Key) *entry {
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	return e
}
