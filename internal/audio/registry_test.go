// ABOUTME: Tests for the audio registry state machine and single-player invariant
// ABOUTME: Uses a scripted fake handle that can fire observer events synchronously

package audio

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeHandle struct {
	obs      Observer
	src      string
	playing  bool
	plays    int
	pauses   int
	seeks    []float64
	closed   bool
	playErr  error
	duration float64 // reported synchronously from SetSource when > 0
	srcErr   bool    // report a decode error from SetSource
}

func (h *fakeHandle) SetSource(src string) error {
	h.src = src
	if h.srcErr {
		h.obs.OnError(errors.New("decode failed"))
		return nil
	}
	if h.duration > 0 {
		h.obs.OnLoadedMetadata(h.duration)
	}
	return nil
}

func (h *fakeHandle) Play() error {
	if h.playErr != nil {
		return h.playErr
	}
	h.plays++
	h.playing = true
	return nil
}

func (h *fakeHandle) Pause() {
	h.pauses++
	h.playing = false
}

func (h *fakeHandle) Seek(s float64) error {
	h.seeks = append(h.seeks, s)
	return nil
}

func (h *fakeHandle) Close() { h.closed = true }

type fakeFactory struct {
	mu       sync.Mutex
	order    []*fakeHandle
	template fakeHandle
	err      error
}

func (f *fakeFactory) build(obs Observer) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	h := f.template
	h.obs = obs
	f.order = append(f.order, &h)
	return &h, nil
}

func (f *fakeFactory) last() *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.order[len(f.order)-1]
}

var (
	k1 = Key{MessageID: "m1", BlockID: "m1#0"}
	k2 = Key{MessageID: "m2", BlockID: "m2#0"}
	k3 = Key{MessageID: "m2", BlockID: "m2#1"}
)

func TestRegistry_LazyHandleCreation(t *testing.T) {
	f := &fakeFactory{template: fakeHandle{duration: 30}}
	r := NewRegistry(f.build, nil)
	defer r.Close()

	assert.Equal(t, Idle, r.State(k1).Phase)
	assert.Empty(t, f.order)

	require.NoError(t, r.Play(k1, "https://x/a.ogg"))
	require.Len(t, f.order, 1)
	h := f.last()
	assert.Equal(t, "https://x/a.ogg", h.src)
	assert.True(t, h.playing)

	st := r.State(k1)
	assert.Equal(t, Playing, st.Phase)
	assert.InDelta(t, 30, st.Duration, 1e-9)

	// Second play reuses the handle.
	r.Pause(k1)
	require.NoError(t, r.Play(k1, "https://x/a.ogg"))
	assert.Len(t, f.order, 1)
	assert.Equal(t, 2, h.plays)
}

func TestRegistry_PlayPausesOthers(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f.build, nil)
	defer r.Close()

	require.NoError(t, r.Play(k1, "a"))
	h1 := f.last()
	require.NoError(t, r.Play(k2, "b"))
	h2 := f.last()

	assert.False(t, h1.playing)
	assert.True(t, h2.playing)
	assert.Equal(t, Paused, r.State(k1).Phase)
	assert.Equal(t, Playing, r.State(k2).Phase)

	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, k2, cur)
}

func TestRegistry_AtMostOnePlaying(t *testing.T) {
	f := &fakeFactory{template: fakeHandle{duration: 10}}
	r := NewRegistry(f.build, nil)
	defer r.Close()

	keys := []Key{k1, k2, k3, PreviewKey("d1"), PreviewKey("d2")}
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 500; i++ {
		k := keys[rng.IntN(len(keys))]
		switch rng.IntN(4) {
		case 0, 1:
			_ = r.Play(k, "src")
		case 2:
			r.Pause(k)
		case 3:
			_ = r.Toggle(k, "src")
		}

		playing := 0
		for _, k := range keys {
			if r.State(k).IsPlaying() {
				playing++
			}
		}
		require.LessOrEqual(t, playing, 1, "step %d", i)

		native := 0
		for _, h := range f.order {
			if h.playing {
				native++
			}
		}
		require.LessOrEqual(t, native, 1, "step %d", i)
	}
}

func TestRegistry_ProgressAndSeek(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f.build, nil)
	defer r.Close()

	require.NoError(t, r.Play(k1, "a"))
	assert.ErrorIs(t, r.SeekFraction(k1, 0.5), ErrUnknownDuration)

	h := f.last()
	h.obs.OnLoadedMetadata(120)
	h.obs.OnTimeUpdate(30)

	st := r.State(k1)
	assert.InDelta(t, 30, st.CurrentTime, 1e-9)
	assert.InDelta(t, 25, st.Progress, 1e-9)

	require.NoError(t, r.SeekFraction(k1, 0.75))
	assert.Equal(t, []float64{90}, h.seeks)
	st = r.State(k1)
	assert.InDelta(t, 90, st.CurrentTime, 1e-9)
	assert.InDelta(t, 75, st.Progress, 1e-9)

	require.NoError(t, r.SeekFraction(k1, 3))
	assert.InDelta(t, 120, h.seeks[1], 1e-9)
}

func TestRegistry_HintEnablesSeekBeforeMetadata(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f.build, nil)
	defer r.Close()

	r.Hint(k1, 12)
	require.NoError(t, r.Play(k1, "a"))
	require.NoError(t, r.SeekFraction(k1, 0.5))
	assert.Equal(t, []float64{6}, f.last().seeks)
}

func TestRegistry_EndedRestartsFromZero(t *testing.T) {
	f := &fakeFactory{template: fakeHandle{duration: 5}}
	r := NewRegistry(f.build, nil)
	defer r.Close()

	require.NoError(t, r.Play(k1, "a"))
	h := f.last()
	h.obs.OnTimeUpdate(5)
	h.obs.OnEnded()

	st := r.State(k1)
	assert.Equal(t, Ended, st.Phase)
	assert.InDelta(t, 100, st.Progress, 1e-9)

	require.NoError(t, r.Play(k1, "a"))
	assert.Equal(t, []float64{0}, h.seeks)
	assert.Equal(t, Playing, r.State(k1).Phase)
	assert.Zero(t, r.State(k1).CurrentTime)
}

func TestRegistry_ErroredIsTerminal(t *testing.T) {
	tests := []struct {
		name    string
		factory *fakeFactory
	}{
		{"construction failure", &fakeFactory{err: errors.New("no audio device")}},
		{"decode failure", &fakeFactory{template: fakeHandle{srcErr: true}}},
		{"play rejected", &fakeFactory{template: fakeHandle{playErr: errors.New("not allowed")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(tt.factory.build, nil)
			defer r.Close()

			err := r.Play(k1, "a")
			assert.ErrorIs(t, err, ErrUnavailable)
			st := r.State(k1)
			assert.Equal(t, Errored, st.Phase)
			assert.Error(t, st.Err)

			built := len(tt.factory.order)
			var plays int
			if built > 0 {
				plays = tt.factory.last().plays
			}

			assert.ErrorIs(t, r.Play(k1, "a"), ErrUnavailable)
			assert.ErrorIs(t, r.Toggle(k1, "a"), ErrUnavailable)
			assert.Len(t, tt.factory.order, built)
			if built > 0 {
				assert.Equal(t, plays, tt.factory.last().plays)
			}
		})
	}
}

func TestRegistry_ErrorEventWhilePlaying(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f.build, nil)
	defer r.Close()

	require.NoError(t, r.Play(k1, "a"))
	f.last().obs.OnError(errors.New("stream reset"))

	assert.Equal(t, Errored, r.State(k1).Phase)
	_, ok := r.Current()
	assert.False(t, ok)

	// A late ended event does not revive the block.
	f.last().obs.OnEnded()
	assert.Equal(t, Errored, r.State(k1).Phase)
}

func TestRegistry_Toggle(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f.build, nil)
	defer r.Close()

	require.NoError(t, r.Toggle(k1, "a"))
	assert.True(t, r.State(k1).IsPlaying())
	require.NoError(t, r.Toggle(k1, "a"))
	assert.Equal(t, Paused, r.State(k1).Phase)
}

func TestRegistry_OnChange(t *testing.T) {
	f := &fakeFactory{template: fakeHandle{duration: 8}}
	r := NewRegistry(f.build, nil)
	defer r.Close()

	var phases []Phase
	r.OnChange(func(k Key, s State) {
		if k == k1 {
			phases = append(phases, s.Phase)
		}
	})

	require.NoError(t, r.Play(k1, "a"))
	r.Pause(k1)

	assert.Equal(t, []Phase{Loading, Ready, Playing, Paused}, phases)
}

func TestRegistry_ForgetAndClose(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f.build, nil)

	require.NoError(t, r.Play(k1, "a"))
	h1 := f.last()
	require.NoError(t, r.Play(k2, "b"))
	h2 := f.last()

	r.Forget(k1)
	assert.True(t, h1.closed)
	assert.Equal(t, Idle, r.State(k1).Phase)

	r.Close()
	r.Close()
	assert.True(t, h2.closed)
	assert.False(t, h2.playing)
	assert.ErrorIs(t, r.Play(k2, "b"), ErrClosed)
}

func TestPreviewKey(t *testing.T) {
	k := PreviewKey("d2")
	assert.True(t, k.IsPreview())
	assert.False(t, k1.IsPreview())
	assert.NotEqual(t, PreviewKey("d1"), k)
	assert.Equal(t, "preview/d2", k.String())
}
