// ABOUTME: Outbound pipeline: optimistic append, then webhook POST and broker publish in the background
// ABOUTME: Also owns the waiting-for-bot flag and the one-shot pending text slot

package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/2389/eagence-chat/internal/message"
)

// Pipeline errors
var (
	ErrEmpty  = errors.New("nothing to send")
	ErrClosed = errors.New("pipeline closed")
)

// FormEchoText is the text of the local echo appended for a form reply.
const FormEchoText = "Formulaire envoyé"

// Store receives optimistic messages.
type Store interface {
	Append(msg message.Message) bool
}

// Publisher is the broker side of the dual write.
type Publisher interface {
	Connected() bool
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Webhook is the HTTP side of the dual write.
type Webhook interface {
	PostInbound(ctx context.Context, bearer string, envelope any) error
}

// Sender identifies the user on the wire.
type Sender interface {
	From() string
	BearerHeader() string
}

// Options configures a Pipeline.
type Options struct {
	Store     Store
	Publisher Publisher
	Webhook   Webhook
	Sender    Sender

	OutboundTopic   string
	IntegrationType string
	CallbackURL     string
	// Timeout bounds one background dispatch.
	Timeout time.Duration

	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

// Pipeline sends user intents.
type Pipeline struct {
	store   Store
	webhook Webhook
	sender  Sender
	topic   string
	timeout time.Duration
	now     func() time.Time
	newID   func() string
	header  header
	logger  *slog.Logger

	mu        sync.Mutex
	publisher Publisher
	waiting   bool
	pending   *string
	lastID    int64
	observers []func(waiting bool)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	topic := opts.OutboundTopic
	if topic == "" {
		topic = "outbound-messages"
	}
	integrationType := opts.IntegrationType
	if integrationType == "" {
		integrationType = "E-Agence"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:     opts.Store,
		webhook:   opts.Webhook,
		sender:    opts.Sender,
		publisher: opts.Publisher,
		topic:     topic,
		timeout:   timeout,
		now:       now,
		newID:     newID,
		header: header{
			from:            opts.Sender.From(),
			integrationType: integrationType,
			callbackURL:     opts.CallbackURL,
		},
		logger: logger.With("component", "outbound"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetPublisher swaps the broker connection, for topic switches.
func (p *Pipeline) SetPublisher(pub Publisher) {
	p.mu.Lock()
	p.publisher = pub
	p.mu.Unlock()
}

// SendText sends free text with optional draft attachments. The local id and
// the wire messageId are the same millisecond timestamp; attachments use
// "{id}-{n}". The message is in the store when SendText returns.
func (p *Pipeline) SendText(ctx context.Context, text string, attachments []message.Block) (message.Message, error) {
	if err := p.check(ctx); err != nil {
		return message.Message{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" && len(attachments) == 0 {
		return message.Message{}, ErrEmpty
	}

	now := p.now()
	id := p.timestampID(now)

	var blocks []message.Block
	var envelopes []Envelope
	if text != "" {
		blocks = append(blocks, message.TextBlock(text))
		envelopes = append(envelopes, p.header.envelope(id, now, Body{Type: TypeText, Text: &Text{Body: text}}))
	}
	for i, a := range attachments {
		body, ok := attachmentBody(a)
		if !ok {
			p.logger.Warn("skipping unsendable attachment", "kind", a.Kind)
			continue
		}
		a.ID = ""
		blocks = append(blocks, a)
		envelopes = append(envelopes, p.header.envelope(id+"-"+strconv.Itoa(i+1), now, body))
	}
	if len(blocks) == 0 {
		return message.Message{}, ErrEmpty
	}

	msg := message.New(id, true, now, blocks...)
	msg.Status = message.StatusSent
	return p.send(msg, envelopes), nil
}

// ReplyButton answers a button block. inReplyTo is the server id of the
// bot message.
func (p *Pipeline) ReplyButton(ctx context.Context, inReplyTo string, btn message.Button) (message.Message, error) {
	if err := p.check(ctx); err != nil {
		return message.Message{}, err
	}
	now := p.now()
	id := p.newID()
	msg := message.New(id, true, now, message.TextBlock(btn.Title))
	msg.Status = message.StatusSent

	return p.send(msg, []Envelope{p.header.envelope(id, now, Body{
		Type:        TypeButtonReply,
		ButtonReply: &ButtonReply{ID: btn.ID, Title: btn.Title},
		Context:     replyContext(inReplyTo),
	})}), nil
}

// ReplyList answers a list block with the selected items. The server echoes
// the reply under the same id, which marks the local echo delivered.
func (p *Pipeline) ReplyList(ctx context.Context, inReplyTo string, items []message.ListItem) (message.Message, error) {
	if err := p.check(ctx); err != nil {
		return message.Message{}, err
	}
	if len(items) == 0 {
		return message.Message{}, ErrEmpty
	}
	now := p.now()
	id := p.newID()

	titles := make([]string, len(items))
	for i, it := range items {
		titles[i] = it.Title
	}
	msg := message.New(id, true, now, message.TextBlock(strings.Join(titles, ", ")))
	msg.Status = message.StatusSent

	return p.send(msg, []Envelope{p.header.envelope(id, now, Body{
		Type:      TypeListReply,
		ListReply: append([]message.ListItem(nil), items...),
		Context:   replyContext(inReplyTo),
	})}), nil
}

// ReplyForm answers a form block with every field value.
func (p *Pipeline) ReplyForm(ctx context.Context, inReplyTo, typeRequest string, values []message.FieldValue) (message.Message, error) {
	if err := p.check(ctx); err != nil {
		return message.Message{}, err
	}
	now := p.now()
	id := p.newID()
	msg := message.New(id, true, now, message.TextBlock(FormEchoText))
	msg.Status = message.StatusSent

	return p.send(msg, []Envelope{p.header.envelope(id, now, Body{
		Type: TypeFormReply,
		FormReply: &FormReply{
			TypeRequest: typeRequest,
			Fields:      append([]message.FieldValue(nil), values...),
		},
		Context: replyContext(inReplyTo),
	})}), nil
}

// send appends msg, raises the waiting flag and dispatches envelopes.
func (p *Pipeline) send(msg message.Message, envelopes []Envelope) message.Message {
	if !p.store.Append(msg) {
		p.logger.Warn("optimistic message already present", "message_id", msg.ID)
	}
	p.setWaiting(true)

	p.mu.Lock()
	pub := p.publisher
	p.mu.Unlock()

	publish := pub != nil && pub.Connected()
	if !publish {
		p.logger.Warn("broker offline, publish skipped", "message_id", msg.ID)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.dispatch(msg.ID, envelopes, pub, publish)
	}()
	return msg
}

// dispatch delivers envelopes over HTTP and, when publish is set, over the
// broker. The two channels are independent; failures are logged only.
func (p *Pipeline) dispatch(id string, envelopes []Envelope, pub Publisher, publish bool) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		// Each envelope is its own webhook call; one rejection does not
		// hold back the rest.
		var errs []error
		for _, env := range envelopes {
			if err := p.webhook.PostInbound(ctx, p.sender.BearerHeader(), env); err != nil {
				p.logger.Error("webhook delivery failed", "message_id", env.MessageID, "error", err)
				errs = append(errs, fmt.Errorf("posting %s: %w", env.MessageID, err))
			}
		}
		return errors.Join(errs...)
	})
	if publish {
		g.Go(func() error {
			for _, env := range envelopes {
				payload, err := json.Marshal(env)
				if err != nil {
					return fmt.Errorf("marshaling envelope: %w", err)
				}
				if err := pub.Publish(ctx, p.topic, payload); err != nil {
					p.logger.Error("publish failed", "message_id", env.MessageID, "error", err)
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.logger.Debug("dispatch incomplete", "message_id", id, "error", err)
		return
	}
	p.logger.Debug("dispatched", "message_id", id, "envelopes", len(envelopes), "published", publish)
}

// Waiting reports whether a bot answer is expected.
func (p *Pipeline) Waiting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting
}

// OnWaiting registers fn to be called when the waiting flag changes.
func (p *Pipeline) OnWaiting(fn func(waiting bool)) {
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}

// BotResponded clears the waiting flag. It is the only thing that does:
// a bot reply that never arrives leaves the flag set.
func (p *Pipeline) BotResponded() {
	p.setWaiting(false)
}

func (p *Pipeline) setWaiting(v bool) {
	p.mu.Lock()
	if p.waiting == v {
		p.mu.Unlock()
		return
	}
	p.waiting = v
	observers := p.observers
	p.mu.Unlock()

	for _, fn := range observers {
		fn(v)
	}
}

// SetPending stores text to be sent by whoever opens the chat next,
// replacing any earlier pending text.
func (p *Pipeline) SetPending(text string) {
	p.mu.Lock()
	p.pending = &text
	p.mu.Unlock()
}

// TakePending returns the pending text and empties the slot.
func (p *Pipeline) TakePending() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return "", false
	}
	text := *p.pending
	p.pending = nil
	return text, true
}

// Wait blocks until every background dispatch has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close abandons in-flight dispatches and waits for them to return.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) check(ctx context.Context) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	return ctx.Err()
}

// timestampID returns the millisecond timestamp of now, bumped past the
// previous id so two sends in the same millisecond stay distinct.
func (p *Pipeline) timestampID(now time.Time) string {
	ms := now.UnixMilli()
	p.mu.Lock()
	if ms <= p.lastID {
		ms = p.lastID + 1
	}
	p.lastID = ms
	p.mu.Unlock()
	return strconv.FormatInt(ms, 10)
}
