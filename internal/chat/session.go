// ABOUTME: Chat session: token, broker connection, inbound loop, interaction intents, teardown
// ABOUTME: The one place where transport, decoder, store, controllers and pipeline meet

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/eagence-chat/internal/audio"
	"github.com/2389/eagence-chat/internal/config"
	"github.com/2389/eagence-chat/internal/conversation"
	"github.com/2389/eagence-chat/internal/dedupe"
	"github.com/2389/eagence-chat/internal/identity"
	"github.com/2389/eagence-chat/internal/inbound"
	"github.com/2389/eagence-chat/internal/media"
	"github.com/2389/eagence-chat/internal/message"
	"github.com/2389/eagence-chat/internal/outbound"
	"github.com/2389/eagence-chat/internal/transport"
	"github.com/2389/eagence-chat/internal/widget"
)

// Session errors
var (
	ErrNoBlock    = errors.New("no such block")
	ErrWrongKind  = errors.New("block has a different kind")
	ErrNoAudioOut = errors.New("no audio output available")
	ErrClosed     = errors.New("session closed")
	ErrNoRecorder = errors.New("no microphone available")
)

// Backend is the portal HTTP API.
type Backend interface {
	IssueToken(ctx context.Context, clientID string) (string, error)
	RegisterSubscription(ctx context.Context, bearer, topic string) error
	PostInbound(ctx context.Context, bearer string, envelope any) error
}

// Conn is a broker connection bound to one topic.
type Conn interface {
	Topic() string
	Connected() bool
	OnStatus(fn func(connected bool))
	Publish(ctx context.Context, topic string, payload []byte) error
	Close()
}

// DialFunc opens a broker connection subscribed to topic.
type DialFunc func(topic string, handler transport.Handler) (Conn, error)

// Options configures a Session.
type Options struct {
	Config  *config.Config
	Backend Backend
	// Dial defaults to a paho MQTT connection built from Config.Broker.
	Dial DialFunc
	// AudioFactory builds native players. Without one every audio block
	// reports ErrUnavailable on play.
	AudioFactory audio.Factory
	// Microphone and Prober back voice recording. Without a microphone
	// StartRecording reports ErrNoRecorder.
	Microphone media.Platform
	Prober     media.Prober
	Now        func() time.Time
	Logger     *slog.Logger
}

// Session is a live conversation for one user.
type Session struct {
	cfg     *config.Config
	backend Backend
	dial    DialFunc
	now     func() time.Time
	base    *slog.Logger
	logger  *slog.Logger

	identity *identity.Session
	store    *conversation.Store
	window   *dedupe.Window
	audio    *audio.Registry
	widgets  *widget.Table
	drafts   *media.Drafts
	recorder *media.Recorder
	pipeline *outbound.Pipeline

	ctx    context.Context
	cancel context.CancelFunc

	// switchMu serializes topic switches.
	switchMu sync.Mutex

	mu        sync.Mutex
	conn      Conn
	observers []func(connected bool)
	closed    bool
}

// Open authenticates, registers the subscription and starts the broker
// connection. It does not wait for the broker to connect.
func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg := opts.Config
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	raw := cfg.Auth.Token
	if raw == "" {
		var err error
		raw, err = opts.Backend.IssueToken(ctx, cfg.Auth.ClientID)
		if err != nil {
			return nil, fmt.Errorf("obtaining session token: %w", err)
		}
	}
	ident, err := identity.NewDecoder([]byte(cfg.Auth.JWTSecret)).Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding session token: %w", err)
	}

	factory := opts.AudioFactory
	if factory == nil {
		factory = func(audio.Observer) (audio.Handle, error) { return nil, ErrNoAudioOut }
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		backend:  opts.Backend,
		now:      now,
		base:     base,
		logger:   base.With("component", "chat", "user_id", ident.UserID),
		identity: ident,
		store:    conversation.NewStore(base),
		window:   dedupe.New(cfg.Chat.DedupeTTL, cfg.Chat.DedupeSize),
		audio:    audio.NewRegistry(factory, base),
		widgets:  widget.NewTable(),
		drafts:   &media.Drafts{},
		ctx:      sctx,
		cancel:   cancel,
	}
	s.dial = opts.Dial
	if s.dial == nil {
		s.dial = s.dialBroker
	}
	if opts.Microphone != nil && opts.Prober != nil {
		s.recorder = media.NewRecorder(media.RecorderOptions{
			Platform:     opts.Microphone,
			Prober:       opts.Prober,
			Formats:      cfg.Media.PreferredFormats,
			ProbeTimeout: cfg.Media.ProbeTimeout,
			Now:          now,
			Logger:       base,
		})
	}

	s.pipeline = outbound.New(outbound.Options{
		Store:           s.store,
		Webhook:         opts.Backend,
		Sender:          ident,
		OutboundTopic:   cfg.Broker.OutboundTopic,
		IntegrationType: cfg.Chat.IntegrationType,
		CallbackURL:     cfg.Backend.CallbackURL,
		Timeout:         cfg.Backend.RequestTimeout,
		Now:             now,
		Logger:          base,
	})

	if err := s.connect(ctx, ident.Topic()); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.Info("chat session opened", "topic", ident.Topic(), "name", ident.DisplayName())
	return s, nil
}

// dialBroker is the default DialFunc.
func (s *Session) dialBroker(topic string, handler transport.Handler) (Conn, error) {
	b := s.cfg.Broker
	c, err := transport.Dial(transport.Options{
		URL:               b.URL,
		ClientID:          b.ClientIDPrefix + "-" + s.identity.From() + "-" + uuid.New().String()[:8],
		Username:          b.Username,
		Password:          b.Password,
		QoS:               b.QoS,
		ReconnectInterval: b.ReconnectInterval,
		ConnectTimeout:    b.ConnectTimeout,
		Logger:            s.base,
	}, topic, handler)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// connect registers topic with the backend and dials it. The caller must
// have closed any previous connection.
func (s *Session) connect(ctx context.Context, topic string) error {
	if err := s.backend.RegisterSubscription(ctx, s.identity.BearerHeader(), topic); err != nil {
		// The broker subscription still works; the backend may just not
		// route to this topic yet.
		s.logger.Error("subscription registration failed", "topic", topic, "error", err)
	}

	conn, err := s.dial(topic, s.handleInbound)
	if err != nil {
		return fmt.Errorf("dialing broker: %w", err)
	}
	conn.OnStatus(s.notifyStatus)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.mu.Unlock()
	s.pipeline.SetPublisher(conn)
	return nil
}

// SwitchTopic moves the session to another topic. The old connection is
// closed before the new one is dialed, so only one subscription is ever
// open. Concurrent switches run one after the other.
func (s *Session) SwitchTopic(ctx context.Context, topic string) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old := s.conn
	s.conn = nil
	s.mu.Unlock()

	if old != nil {
		if old.Topic() == topic {
			s.mu.Lock()
			s.conn = old
			s.mu.Unlock()
			return nil
		}
		s.pipeline.SetPublisher(nil)
		old.Close()
		s.notifyStatus(false)
	}
	return s.connect(ctx, topic)
}

// Topic returns the topic of the current connection.
func (s *Session) Topic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.Topic()
}

// Connected reports whether the broker connection is up.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.Connected()
}

// OnStatus registers fn for connection status changes, across topic
// switches.
func (s *Session) OnStatus(fn func(connected bool)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Session) notifyStatus(connected bool) {
	s.mu.Lock()
	observers := s.observers
	s.mu.Unlock()
	for _, fn := range observers {
		fn(connected)
	}
}

// handleInbound is the broker message handler.
func (s *Session) handleInbound(topic string, payload json.RawMessage) {
	d, err := inbound.Decode(payload, s.now())
	if err != nil {
		s.logger.Warn("dropping inbound message", "topic", topic, "error", err)
		return
	}
	if d.Kind == inbound.Unrecognized {
		s.logger.Debug("dropping unrecognized inbound message", "server_id", d.ServerID)
		return
	}

	msg := d.Message
	if s.window.Observe(d.Kind.String() + ":" + msg.ID) {
		s.logger.Debug("dropping redelivered message", "message_id", msg.ID)
		return
	}

	if d.Kind == inbound.ListReply && s.store.Has(msg.ID) {
		if err := s.store.SetStatus(msg.ID, message.StatusDelivered); err != nil {
			s.logger.Debug("marking reply delivered", "message_id", msg.ID, "error", err)
		}
		return
	}

	if !s.store.Append(msg) {
		s.logger.Debug("message already in conversation", "message_id", msg.ID)
		return
	}
	for _, b := range msg.Blocks {
		if b.Kind == message.KindAudio {
			s.audio.Hint(audio.Key{MessageID: msg.ID, BlockID: b.ID}, b.Duration)
		}
	}
	if !msg.IsUser {
		s.pipeline.BotResponded()
	}
	s.logger.Debug("message appended", "message_id", msg.ID, "kind", d.Kind.String())
}

// block finds a block by stable id and checks its kind.
func (s *Session) block(messageID, blockID string, kind message.Kind) (message.Block, error) {
	msg, ok := s.store.Get(messageID)
	if !ok {
		return message.Block{}, fmt.Errorf("%w: %s", conversation.ErrNotFound, messageID)
	}
	i := msg.IndexOf(blockID)
	if i < 0 {
		return message.Block{}, fmt.Errorf("%w: %s/%s", ErrNoBlock, messageID, blockID)
	}
	b := msg.Blocks[i]
	if b.Kind != kind {
		return message.Block{}, fmt.Errorf("%w: %s is %s", ErrWrongKind, blockID, b.Kind)
	}
	return b, nil
}

// List returns the selection controller of a list block.
func (s *Session) List(messageID, blockID string) (*widget.List, error) {
	b, err := s.block(messageID, blockID, message.KindList)
	if err != nil {
		return nil, err
	}
	key := widget.Key{MessageID: messageID, BlockID: blockID}
	return s.widgets.List(key, b, func(items []message.ListItem) {
		if !s.consume(key) {
			return
		}
		if _, err := s.pipeline.ReplyList(s.ctx, inbound.ServerID(messageID), items); err != nil {
			s.logger.Warn("list reply not sent", "message_id", messageID, "error", err)
		}
	}), nil
}

// Form returns the controller of a form block.
func (s *Session) Form(messageID, blockID string) (*widget.Form, error) {
	b, err := s.block(messageID, blockID, message.KindForm)
	if err != nil {
		return nil, err
	}
	key := widget.Key{MessageID: messageID, BlockID: blockID}
	return s.widgets.Form(key, b, func(typeRequest string, values []message.FieldValue) {
		if _, err := s.pipeline.ReplyForm(s.ctx, inbound.ServerID(messageID), typeRequest, values); err != nil {
			s.logger.Warn("form reply not sent", "message_id", messageID, "error", err)
		}
	}), nil
}

// Buttons returns the controller of a button block.
func (s *Session) Buttons(messageID, blockID string) (*widget.Buttons, error) {
	b, err := s.block(messageID, blockID, message.KindButton)
	if err != nil {
		return nil, err
	}
	key := widget.Key{MessageID: messageID, BlockID: blockID}
	return s.widgets.Buttons(key, b, func(btn message.Button) {
		if !s.consume(key) {
			return
		}
		if _, err := s.pipeline.ReplyButton(s.ctx, inbound.ServerID(messageID), btn); err != nil {
			s.logger.Warn("button reply not sent", "message_id", messageID, "error", err)
		}
	}), nil
}

// consume removes an answered block and its controller. It reports false
// when the block is already gone, in which case the answer is dropped.
func (s *Session) consume(key widget.Key) bool {
	s.widgets.Drop(key)
	if err := s.store.RemoveBlockByID(key.MessageID, key.BlockID); err != nil {
		s.logger.Debug("answered block no longer present", "message_id", key.MessageID, "block_id", key.BlockID, "error", err)
		return false
	}
	return true
}

// PressButton answers a button block.
func (s *Session) PressButton(messageID, blockID, buttonID string) error {
	b, err := s.Buttons(messageID, blockID)
	if err != nil {
		return err
	}
	return b.Press(buttonID)
}

// ConfirmList sends the current selection of a list block.
func (s *Session) ConfirmList(messageID, blockID string) error {
	l, err := s.List(messageID, blockID)
	if err != nil {
		return err
	}
	return l.Confirm()
}

// SubmitForm validates and sends a form block.
func (s *Session) SubmitForm(messageID, blockID string) error {
	f, err := s.Form(messageID, blockID)
	if err != nil {
		return err
	}
	return f.Submit()
}

// SendText sends text together with every playable draft attachment. The
// drafts are kept when the send is rejected.
func (s *Session) SendText(ctx context.Context, text string) (message.Message, error) {
	taken := s.drafts.Take()
	msg, err := s.pipeline.SendText(ctx, text, media.Sendable(taken))
	if err != nil {
		s.drafts.Restore(taken)
		return msg, err
	}
	for _, d := range taken {
		s.audio.Forget(audio.PreviewKey(d.ID))
	}
	return msg, nil
}

// SetPending stores text to be sent on the next Mount.
func (s *Session) SetPending(text string) {
	s.pipeline.SetPending(text)
}

// Mount is called when the conversation view appears. It sends the pending
// text, if any, exactly once.
func (s *Session) Mount(ctx context.Context) (bool, error) {
	text, ok := s.pipeline.TakePending()
	if !ok {
		return false, nil
	}
	if _, err := s.pipeline.SendText(ctx, text, nil); err != nil {
		return false, err
	}
	return true, nil
}

// PlayAudio plays an audio block, pausing whatever else is playing.
func (s *Session) PlayAudio(messageID, blockID string) error {
	b, err := s.block(messageID, blockID, message.KindAudio)
	if err != nil {
		return err
	}
	if b.Err {
		return audio.ErrUnavailable
	}
	return s.audio.Play(audio.Key{MessageID: messageID, BlockID: blockID}, b.URL)
}

// ToggleAudio plays or pauses an audio block.
func (s *Session) ToggleAudio(messageID, blockID string) error {
	b, err := s.block(messageID, blockID, message.KindAudio)
	if err != nil {
		return err
	}
	if b.Err {
		return audio.ErrUnavailable
	}
	return s.audio.Toggle(audio.Key{MessageID: messageID, BlockID: blockID}, b.URL)
}

// PlayDraft plays the i-th draft attachment.
func (s *Session) PlayDraft(i int) error {
	d, ok := s.drafts.Get(i)
	if !ok {
		return media.ErrNoDraft
	}
	if !d.Playable() {
		return audio.ErrUnavailable
	}
	return s.audio.Play(audio.PreviewKey(d.ID), d.Block.URL)
}

// RemoveDraft discards the i-th draft attachment and its preview player.
func (s *Session) RemoveDraft(i int) error {
	d, err := s.drafts.Remove(i)
	if err != nil {
		return err
	}
	s.audio.Forget(audio.PreviewKey(d.ID))
	return nil
}

// StartRecording starts a voice message.
func (s *Session) StartRecording(ctx context.Context) error {
	if s.recorder == nil {
		return ErrNoRecorder
	}
	return s.recorder.Start(ctx)
}

// StopRecording ends the voice message and adds it to the drafts. A
// recording that fails the playback check is still added, flagged as
// errored, and its index is returned alongside media.ErrUndecodable.
func (s *Session) StopRecording(ctx context.Context) (int, error) {
	if s.recorder == nil {
		return -1, ErrNoRecorder
	}
	d, err := s.recorder.Stop(ctx)
	if err != nil && !errors.Is(err, media.ErrUndecodable) {
		return -1, err
	}
	i := s.drafts.Add(d)
	s.logger.Debug("voice draft added", "index", i, "playable", d.Playable())
	return i, err
}

// CancelRecording discards a recording in progress.
func (s *Session) CancelRecording() {
	if s.recorder != nil {
		s.recorder.Cancel()
	}
}

// Recording reports whether a voice message is being recorded.
func (s *Session) Recording() bool {
	return s.recorder != nil && s.recorder.State() == media.Recording
}

// Identity returns the decoded session token.
func (s *Session) Identity() *identity.Session { return s.identity }

// Store returns the conversation.
func (s *Session) Store() *conversation.Store { return s.store }

// Audio returns the playback registry.
func (s *Session) Audio() *audio.Registry { return s.audio }

// Drafts returns the pending attachments.
func (s *Session) Drafts() *media.Drafts { return s.drafts }

// Waiting reports whether a bot answer is expected.
func (s *Session) Waiting() bool { return s.pipeline.Waiting() }

// OnWaiting registers fn for waiting flag changes.
func (s *Session) OnWaiting(fn func(bool)) { s.pipeline.OnWaiting(fn) }

// Wait blocks until every outbound dispatch has finished.
func (s *Session) Wait() { s.pipeline.Wait() }

// Close tears the session down: broker connection, in-flight dispatches,
// audio handles and store subscribers.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.CancelRecording()
	s.cancel()
	s.pipeline.Close()
	s.audio.Close()
	s.store.Close()
	s.logger.Info("chat session closed")
}
