// ABOUTME: Voice recorder state machine with encoder format probing and a decodability check
// ABOUTME: Platform, Encoder and Prober abstract the native capture and playback facilities

package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/eagence-chat/internal/message"
)

// Recorder errors
var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrRecording        = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
	ErrEmptyRecording   = errors.New("recording is empty")
	ErrUndecodable      = errors.New("recording cannot be played back")
)

// DefaultFormats is the container preference order for voice messages.
var DefaultFormats = []string{
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/ogg;codecs=opus",
	"audio/mp4",
	"audio/mpeg",
	"audio/wav",
}

// DefaultProbeTimeout bounds the decodability check.
const DefaultProbeTimeout = 2 * time.Second

// State is the recorder state.
type State int

const (
	Idle State = iota
	Recording
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Encoder is a running microphone capture.
type Encoder interface {
	// MimeType is the container actually produced.
	MimeType() string
	// Stop ends capture. Every chunk has been delivered when it returns.
	Stop() error
}

// Platform is the native capture facility.
type Platform interface {
	// Supports reports whether the platform can encode mimeType.
	Supports(mimeType string) bool
	// Open asks for microphone access and starts encoding. An empty
	// mimeType lets the platform choose. Denied access must wrap
	// ErrPermissionDenied.
	Open(ctx context.Context, mimeType string, onChunk func([]byte)) (Encoder, error)
}

// Prober loads a blob the way playback would and reports its duration.
type Prober interface {
	Probe(ctx context.Context, blob []byte, mimeType string) (duration float64, err error)
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Platform     Platform
	Prober       Prober
	Formats      []string
	ProbeTimeout time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// Recorder records voice messages.
type Recorder struct {
	platform     Platform
	prober       Prober
	formats      []string
	probeTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu      sync.Mutex
	state   State
	format  string
	encoder Encoder
	chunks  [][]byte
	started time.Time
}

// NewRecorder creates an idle recorder.
func NewRecorder(opts RecorderOptions) *Recorder {
	formats := opts.Formats
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		platform:     opts.Platform,
		prober:       opts.Prober,
		formats:      formats,
		probeTimeout: timeout,
		now:          now,
		logger:       logger.With("component", "recorder"),
	}
}

// State returns the recorder state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// PickFormat returns the first preferred format the platform supports, or
// "" to let the platform choose.
func (r *Recorder) PickFormat() string {
	for _, f := range r.formats {
		if r.platform.Supports(f) {
			return f
		}
	}
	return ""
}

// Start begins recording. On failure the recorder is idle again.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == Recording {
		r.mu.Unlock()
		return ErrRecording
	}
	r.state = Recording
	r.chunks = nil
	r.mu.Unlock()

	format := r.PickFormat()
	enc, err := r.platform.Open(ctx, format, r.collect)
	if err != nil {
		r.mu.Lock()
		r.state = Idle
		r.mu.Unlock()
		if errors.Is(err, ErrPermissionDenied) {
			r.logger.Warn("microphone access denied")
			return err
		}
		return fmt.Errorf("starting capture: %w", err)
	}

	if got := enc.MimeType(); got != "" {
		format = got
	}

	r.mu.Lock()
	r.encoder = enc
	r.format = format
	r.started = r.now()
	r.mu.Unlock()

	r.logger.Debug("recording started", "mime_type", format)
	return nil
}

func (r *Recorder) collect(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	r.chunks = append(r.chunks, bytes.Clone(chunk))
	r.mu.Unlock()
}

// Stop ends the recording and returns it as a draft. A draft that fails the
// decodability probe is returned with Err set and ErrUndecodable.
func (r *Recorder) Stop(ctx context.Context) (Draft, error) {
	r.mu.Lock()
	if r.state != Recording || r.encoder == nil {
		r.mu.Unlock()
		return Draft{}, ErrNotRecording
	}
	enc := r.encoder
	r.mu.Unlock()

	stopErr := enc.Stop()

	r.mu.Lock()
	r.state = Stopped
	r.encoder = nil
	blob := bytes.Join(r.chunks, nil)
	r.chunks = nil
	format := r.format
	started := r.started
	r.mu.Unlock()

	if stopErr != nil {
		return Draft{}, fmt.Errorf("stopping capture: %w", stopErr)
	}
	if len(blob) == 0 {
		return Draft{}, ErrEmptyRecording
	}

	draft := Draft{
		Data: blob,
		Block: message.Block{
			Kind:     message.KindAudio,
			URL:      DataURL(format, blob),
			MimeType: format,
			Name:     "vocal-" + started.Format("20060102-150405") + extension(format),
			Size:     int64(len(blob)),
		},
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	duration, err := r.prober.Probe(probeCtx, blob, format)
	if err != nil {
		r.logger.Warn("recording failed decodability probe", "mime_type", format, "bytes", len(blob), "error", err)
		draft.Block.Err = true
		return draft, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	draft.Block.Duration = duration
	r.logger.Debug("recording stopped", "mime_type", format, "bytes", len(blob), "duration", duration)
	return draft, nil
}

// Cancel discards an in-progress recording.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	enc := r.encoder
	r.encoder = nil
	r.state = Idle
	r.mu.Unlock()

	if enc != nil {
		if err := enc.Stop(); err != nil {
			r.logger.Debug("discarding recording", "error", err)
		}
	}

	r.mu.Lock()
	r.chunks = nil
	r.mu.Unlock()
}

// DataURL encodes blob as a data: URL.
func DataURL(mimeType string, blob []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(blob)
}

func extension(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(base) {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mp4":
		return ".m4a"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	}
	return ""
}

// UserMessage returns the explanation shown to the user for a capture error.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Accès au micro refusé. Autorisez le micro pour enregistrer un message vocal."
	case errors.Is(err, ErrUndecodable):
		return "Cet enregistrement ne peut pas être lu sur cet appareil."
	case errors.Is(err, ErrEmptyRecording):
		return "L'enregistrement est vide."
	case errors.Is(err, ErrLocationUnavailable):
		return "Impossible d'obtenir votre position."
	}
	return "Une erreur est survenue pendant l'enregistrement."
}
