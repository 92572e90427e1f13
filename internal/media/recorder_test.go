// ABOUTME: Tests for the voice recorder, draft list and location drafts
// ABOUTME: Fakes stand in for the microphone, the playback probe and geolocation

package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/eagence-chat/internal/message"
)

type fakePlatform struct {
	supported map[string]bool
	openErr   error
	opened    []string
	chunks    [][]byte
	actual    string
	onChunk   func([]byte)
}

func (p *fakePlatform) Supports(m string) bool { return p.supported[m] }

func (p *fakePlatform) Open(_ context.Context, m string, onChunk func([]byte)) (Encoder, error) {
	p.opened = append(p.opened, m)
	if p.openErr != nil {
		return nil, p.openErr
	}
	p.onChunk = onChunk
	actual := p.actual
	if actual == "" {
		actual = m
	}
	return &fakeEncoder{p: p, mime: actual}, nil
}

type fakeEncoder struct {
	p       *fakePlatform
	mime    string
	stopped bool
}

func (e *fakeEncoder) MimeType() string { return e.mime }

func (e *fakeEncoder) Stop() error {
	e.stopped = true
	for _, c := range e.p.chunks {
		e.p.onChunk(c)
	}
	return nil
}

type fakeProber struct {
	duration float64
	err      error
	hang     bool
	got      []byte
}

func (p *fakeProber) Probe(ctx context.Context, blob []byte, _ string) (float64, error) {
	p.got = blob
	if p.hang {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return p.duration, p.err
}

var start = time.Date(2026, 6, 1, 14, 30, 5, 0, time.UTC)

func newRecorder(p *fakePlatform, pr *fakeProber) *Recorder {
	return NewRecorder(RecorderOptions{
		Platform:     p,
		Prober:       pr,
		ProbeTimeout: 20 * time.Millisecond,
		Now:          func() time.Time { return start },
	})
}

func TestRecorder_PicksFirstSupportedFormat(t *testing.T) {
	tests := []struct {
		supported []string
		want      string
	}{
		{[]string{"audio/webm", "audio/mp4"}, "audio/webm"},
		{[]string{"audio/mp4", "audio/wav"}, "audio/mp4"},
		{[]string{"audio/webm;codecs=opus", "audio/webm"}, "audio/webm;codecs=opus"},
		{nil, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.supported), func(t *testing.T) {
			p := &fakePlatform{supported: map[string]bool{}}
			for _, s := range tt.supported {
				p.supported[s] = true
			}
			assert.Equal(t, tt.want, newRecorder(p, &fakeProber{}).PickFormat())
		})
	}
}

func TestRecorder_StartStop(t *testing.T) {
	p := &fakePlatform{
		supported: map[string]bool{"audio/ogg;codecs=opus": true},
		chunks:    [][]byte{[]byte("Ogg"), []byte("S-data")},
	}
	pr := &fakeProber{duration: 3.2}
	r := newRecorder(p, pr)

	assert.Equal(t, Idle, r.State())
	require.NoError(t, r.Start(t.Context()))
	assert.Equal(t, Recording, r.State())
	assert.Equal(t, []string{"audio/ogg;codecs=opus"}, p.opened)
	assert.ErrorIs(t, r.Start(t.Context()), ErrRecording)

	d, err := r.Stop(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Stopped, r.State())

	assert.Equal(t, []byte("OggS-data"), d.Data)
	assert.Equal(t, []byte("OggS-data"), pr.got)
	assert.True(t, d.Playable())
	assert.Equal(t, message.KindAudio, d.Block.Kind)
	assert.Equal(t, "audio/ogg;codecs=opus", d.Block.MimeType)
	assert.Equal(t, "vocal-20260601-143005.ogg", d.Block.Name)
	assert.Equal(t, int64(9), d.Block.Size)
	assert.InDelta(t, 3.2, d.Block.Duration, 1e-9)
	assert.Equal(t, "data:audio/ogg;codecs=opus;base64,"+base64.StdEncoding.EncodeToString([]byte("OggS-data")), d.Block.URL)

	// A stopped recorder can record again.
	require.NoError(t, r.Start(t.Context()))
	r.Cancel()
	assert.Equal(t, Idle, r.State())
}

func TestRecorder_PlatformDefaultFormat(t *testing.T) {
	p := &fakePlatform{actual: "audio/mp4", chunks: [][]byte{{1, 2, 3}}}
	r := newRecorder(p, &fakeProber{duration: 1})

	require.NoError(t, r.Start(t.Context()))
	assert.Equal(t, []string{""}, p.opened)

	d, err := r.Stop(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "audio/mp4", d.Block.MimeType)
	assert.True(t, strings.HasSuffix(d.Block.Name, ".m4a"))
}

func TestRecorder_PermissionDenied(t *testing.T) {
	p := &fakePlatform{openErr: fmt.Errorf("getUserMedia: %w", ErrPermissionDenied)}
	r := newRecorder(p, &fakeProber{})

	err := r.Start(t.Context())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, Idle, r.State())
	assert.Contains(t, UserMessage(err), "micro")

	_, err = r.Stop(t.Context())
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestRecorder_UndecodableDraftIsErrored(t *testing.T) {
	tests := []struct {
		name   string
		prober *fakeProber
	}{
		{"decode error", &fakeProber{err: errors.New("unsupported container")}},
		{"probe timeout", &fakeProber{hang: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePlatform{supported: map[string]bool{"audio/webm": true}, chunks: [][]byte{[]byte("x")}}
			r := newRecorder(p, tt.prober)
			require.NoError(t, r.Start(t.Context()))

			d, err := r.Stop(t.Context())
			assert.ErrorIs(t, err, ErrUndecodable)
			assert.True(t, d.Block.Err)
			assert.False(t, d.Playable())
			assert.NotEmpty(t, UserMessage(err))
		})
	}
}

func TestRecorder_EmptyRecording(t *testing.T) {
	r := newRecorder(&fakePlatform{}, &fakeProber{})
	require.NoError(t, r.Start(t.Context()))
	_, err := r.Stop(t.Context())
	assert.ErrorIs(t, err, ErrEmptyRecording)
}

func TestFromFile(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		kind message.Kind
		mime string
	}{
		{"plan.png", []byte("\x89PNG\r\n\x1a\n"), message.KindImage, "image/png"},
		{"devis.pdf", []byte("%PDF-1.7"), message.KindPDF, "application/pdf"},
		{"note", []byte("%PDF-1.4 sniffed"), message.KindPDF, "application/pdf"},
		{"memo.txt", []byte("hello"), message.KindDoc, "text/plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := FromFile("/tmp/"+tt.name, tt.data)
			assert.Equal(t, tt.kind, d.Block.Kind)
			assert.Equal(t, tt.mime, d.Block.MimeType)
			assert.Equal(t, tt.name, d.Block.Name)
			assert.Equal(t, int64(len(tt.data)), d.Block.Size)
		})
	}
}

type fakeLocator struct {
	lat, lon float64
	err      error
}

func (l fakeLocator) Locate(context.Context) (float64, float64, error) {
	return l.lat, l.lon, l.err
}

func TestLocate(t *testing.T) {
	d, err := Locate(t.Context(), fakeLocator{lat: 47.21, lon: -1.55})
	require.NoError(t, err)
	assert.Equal(t, message.KindLocation, d.Block.Kind)
	assert.InDelta(t, 47.21, d.Block.Latitude, 1e-9)

	_, err = Locate(t.Context(), fakeLocator{err: errors.New("timeout")})
	assert.ErrorIs(t, err, ErrLocationUnavailable)
}

func TestDrafts(t *testing.T) {
	var ds Drafts
	ds.Add(FromFile("a.png", []byte("png")))
	bad := Draft{Block: message.Block{Kind: message.KindAudio, Err: true}}
	ds.Add(bad)
	i := ds.Add(Draft{Block: message.Block{Kind: message.KindLocation, Latitude: 1}})
	assert.Equal(t, 2, i)
	assert.Equal(t, 3, ds.Len())

	removed, err := ds.Remove(0)
	require.NoError(t, err)
	assert.Equal(t, "d1", removed.ID)
	_, err = ds.Remove(5)
	assert.ErrorIs(t, err, ErrNoDraft)
	got, ok := ds.Get(0)
	require.True(t, ok)
	assert.True(t, got.Block.Err)
	assert.Equal(t, "d2", got.ID, "ids survive removal of earlier drafts")

	taken := ds.Take()
	require.Len(t, taken, 2)
	assert.Zero(t, ds.Len())

	blocks := Sendable(taken)
	require.Len(t, blocks, 1)
	assert.Equal(t, message.KindLocation, blocks[0].Kind)
}

func TestDrafts_IDsAreNeverReused(t *testing.T) {
	var ds Drafts
	ds.Add(Draft{})
	ds.Add(Draft{})
	_, err := ds.Remove(0)
	require.NoError(t, err)
	ds.Add(Draft{})

	a, _ := ds.Get(0)
	b, _ := ds.Get(1)
	assert.Equal(t, "d2", a.ID)
	assert.Equal(t, "d3", b.ID)
}

func TestDrafts_RestoreKeepsOrder(t *testing.T) {
	var ds Drafts
	ds.Add(Draft{Block: message.Block{Name: "a"}})
	ds.Add(Draft{Block: message.Block{Name: "b"}})
	taken := ds.Take()
	ds.Add(Draft{Block: message.Block{Name: "c"}})

	ds.Restore(taken)

	var names []string
	for i := 0; i < ds.Len(); i++ {
		d, _ := ds.Get(i)
		names = append(names, d.Block.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}
