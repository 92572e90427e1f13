// ABOUTME: Tests for the outbound pipeline: optimistic append, dual write, waiting flag
// ABOUTME: Uses the real conversation store with fake webhook and publisher

package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/eagence-chat/internal/conversation"
	"github.com/2389/eagence-chat/internal/message"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSender struct{}

func (fakeSender) From() string         { return "42" }
func (fakeSender) BearerHeader() string { return "Bearer tok" }

type fakeWebhook struct {
	mu        sync.Mutex
	envelopes []Envelope
	bearers   []string
	err       error
	// failFirst makes only the first call fail.
	failFirst error
	block     chan struct{}
}

func (w *fakeWebhook) PostInbound(ctx context.Context, bearer string, envelope any) error {
	if w.block != nil {
		select {
		case <-w.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.envelopes = append(w.envelopes, envelope.(Envelope))
	w.bearers = append(w.bearers, bearer)
	if w.failFirst != nil && len(w.envelopes) == 1 {
		return w.failFirst
	}
	return w.err
}

func (w *fakeWebhook) sent() []Envelope {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Envelope(nil), w.envelopes...)
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	topics    []string
	payloads  [][]byte
	err       error
}

func (p *fakePublisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return p.err
}

func (p *fakePublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 123_000_000, time.UTC)

type fixture struct {
	store *conversation.Store
	hook  *fakeWebhook
	pub   *fakePublisher
	p     *Pipeline
}

func newFixture(t *testing.T, connected bool) *fixture {
	t.Helper()
	f := &fixture{
		store: conversation.NewStore(nil),
		hook:  &fakeWebhook{},
		pub:   &fakePublisher{connected: connected},
	}
	ids := 0
	f.p = New(Options{
		Store:       f.store,
		Publisher:   f.pub,
		Webhook:     f.hook,
		Sender:      fakeSender{},
		CallbackURL: "https://portal.example/callback",
		Now:         func() time.Time { return fixedNow },
		NewID: func() string {
			ids++
			return "reply-" + string(rune('0'+ids))
		},
	})
	t.Cleanup(func() {
		f.p.Close()
		f.store.Close()
	})
	return f
}

func TestSendText_BonjourScenario(t *testing.T) {
	f := newFixture(t, true)

	msg, err := f.p.SendText(t.Context(), "Bonjour", nil)
	require.NoError(t, err)

	// Appended synchronously, before any network result.
	want := "1777888800123"
	assert.Equal(t, want, msg.ID)
	got, ok := f.store.Get(want)
	require.True(t, ok)
	assert.True(t, got.IsUser)
	assert.Equal(t, message.StatusSent, got.Status)
	require.Len(t, got.Blocks, 1)
	assert.Equal(t, "Bonjour", got.Blocks[0].Text)
	assert.True(t, f.p.Waiting())

	f.p.Wait()

	sent := f.hook.sent()
	require.Len(t, sent, 1)
	env := sent[0]
	assert.Equal(t, "42", env.From)
	assert.Equal(t, "E-Agence", env.IntegrationType)
	assert.Equal(t, want, env.MessageID)
	assert.Equal(t, "2026-05-04T10:00:00.123Z", env.ReceivedAt)
	assert.Equal(t, "https://portal.example/callback", env.URLWebhook)
	assert.Equal(t, TypeText, env.Message.Type)
	assert.Equal(t, "Bonjour", env.Message.Text.Body)
	assert.Equal(t, []string{"Bearer tok"}, f.hook.bearers)

	require.Equal(t, 1, f.pub.calls())
	assert.Equal(t, "outbound-messages", f.pub.topics[0])
	var published map[string]any
	require.NoError(t, json.Unmarshal(f.pub.payloads[0], &published))
	assert.Equal(t, want, published["messageId"])
	assert.Equal(t, "https://portal.example/callback", published["UrlWebhook"])

	f.p.BotResponded()
	assert.False(t, f.p.Waiting())
}

func TestSendText_OfflineSkipsPublish(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.p.SendText(t.Context(), "hors ligne", nil)
	require.NoError(t, err)
	f.p.Wait()

	assert.Equal(t, 1, f.store.Len())
	assert.Len(t, f.hook.sent(), 1)
	assert.Zero(t, f.pub.calls())
}

func TestSendText_FailuresDoNotRollBack(t *testing.T) {
	f := newFixture(t, true)
	f.hook.err = errors.New("502 bad gateway")
	f.pub.err = errors.New("broker gone")

	msg, err := f.p.SendText(t.Context(), "allo ?", nil)
	require.NoError(t, err)
	f.p.Wait()

	got, ok := f.store.Get(msg.ID)
	require.True(t, ok)
	assert.Equal(t, message.StatusSent, got.Status)
	assert.True(t, f.p.Waiting())
}

func TestSendText_WebhookRejectionDoesNotStopLaterEnvelopes(t *testing.T) {
	f := newFixture(t, true)
	f.hook.failFirst = errors.New("500 internal error")

	msg, err := f.p.SendText(t.Context(), "voici", []message.Block{
		{Kind: message.KindImage, URL: "https://x/p.png", MimeType: "image/png"},
		{Kind: message.KindLocation, Latitude: 47.2, Longitude: -1.5},
	})
	require.NoError(t, err)
	f.p.Wait()

	sent := f.hook.sent()
	require.Len(t, sent, 3)
	assert.Equal(t, msg.ID, sent[0].MessageID)
	assert.Equal(t, msg.ID+"-1", sent[1].MessageID)
	assert.Equal(t, msg.ID+"-2", sent[2].MessageID)
	assert.Equal(t, 3, f.pub.calls())
}

func TestSendText_Empty(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.p.SendText(t.Context(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Zero(t, f.store.Len())
	assert.False(t, f.p.Waiting())
}

func TestSendText_SameMillisecondIDsDiffer(t *testing.T) {
	f := newFixture(t, false)
	a, err := f.p.SendText(t.Context(), "un", nil)
	require.NoError(t, err)
	b, err := f.p.SendText(t.Context(), "deux", nil)
	require.NoError(t, err)
	f.p.Wait()

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, f.store.Len())
}

func TestSendText_Attachments(t *testing.T) {
	f := newFixture(t, true)

	msg, err := f.p.SendText(t.Context(), "voici", []message.Block{
		{Kind: message.KindImage, URL: "https://x/p.png", MimeType: "image/png", ID: "preview#0"},
		{Kind: message.KindLocation, Latitude: 47.2, Longitude: -1.5},
		{Kind: message.KindButton},
	})
	require.NoError(t, err)
	f.p.Wait()

	require.Len(t, msg.Blocks, 3)
	assert.Equal(t, message.KindText, msg.Blocks[0].Kind)
	assert.Equal(t, message.KindImage, msg.Blocks[1].Kind)
	assert.Equal(t, msg.ID+"#1", msg.Blocks[1].ID)
	assert.Equal(t, message.KindLocation, msg.Blocks[2].Kind)

	sent := f.hook.sent()
	require.Len(t, sent, 3)
	assert.Equal(t, msg.ID, sent[0].MessageID)
	assert.Equal(t, msg.ID+"-1", sent[1].MessageID)
	assert.Equal(t, TypeImage, sent[1].Message.Type)
	assert.Equal(t, "image/png", sent[1].Message.Media.MimeType)
	assert.Equal(t, msg.ID+"-2", sent[2].MessageID)
	assert.Equal(t, TypeLocation, sent[2].Message.Type)
	assert.InDelta(t, 47.2, sent[2].Message.Location.Latitude, 1e-9)
	assert.Equal(t, 3, f.pub.calls())
}

func TestReplyButton(t *testing.T) {
	f := newFixture(t, true)

	msg, err := f.p.ReplyButton(t.Context(), "srv-7", message.Button{ID: "yes", Title: "Oui"})
	require.NoError(t, err)
	f.p.Wait()

	assert.Equal(t, "reply-1", msg.ID)
	assert.Equal(t, "Oui", msg.Blocks[0].Text)
	assert.True(t, f.store.Has("reply-1"))

	env := f.hook.sent()[0]
	assert.Equal(t, TypeButtonReply, env.Message.Type)
	assert.Equal(t, &ButtonReply{ID: "yes", Title: "Oui"}, env.Message.ButtonReply)
	assert.Equal(t, &Context{MessageID: "srv-7"}, env.Message.Context)
}

func TestReplyList(t *testing.T) {
	f := newFixture(t, true)
	items := []message.ListItem{{ID: "a", Title: "Alpha"}, {ID: "c", Title: "Gamma"}}

	msg, err := f.p.ReplyList(t.Context(), "srv-9", items)
	require.NoError(t, err)
	f.p.Wait()

	assert.Equal(t, "Alpha, Gamma", msg.Blocks[0].Text)
	env := f.hook.sent()[0]
	assert.Equal(t, TypeListReply, env.Message.Type)
	assert.Equal(t, items, env.Message.ListReply)
	assert.Equal(t, msg.ID, env.MessageID)

	_, err = f.p.ReplyList(t.Context(), "srv-9", nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestReplyForm(t *testing.T) {
	f := newFixture(t, true)
	values := []message.FieldValue{{ID: "nom", Name: "Nom", Value: "Jeanne"}}

	msg, err := f.p.ReplyForm(t.Context(), "srv-f", "rappel", values)
	require.NoError(t, err)
	f.p.Wait()

	assert.Equal(t, FormEchoText, msg.Blocks[0].Text)
	env := f.hook.sent()[0]
	assert.Equal(t, TypeFormReply, env.Message.Type)
	assert.Equal(t, "rappel", env.Message.FormReply.TypeRequest)
	assert.Equal(t, values, env.Message.FormReply.Fields)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"form_reply":{"typeRequest":"rappel","fields":[{"id":"nom","name":"Nom","value":"Jeanne"}]}`)
	assert.Contains(t, string(raw), `"context":{"message_id":"srv-f"}`)
}

func TestWaitingObservers(t *testing.T) {
	f := newFixture(t, false)
	var seen []bool
	f.p.OnWaiting(func(v bool) { seen = append(seen, v) })

	_, err := f.p.SendText(t.Context(), "a", nil)
	require.NoError(t, err)
	_, err = f.p.SendText(t.Context(), "b", nil)
	require.NoError(t, err)
	f.p.BotResponded()
	f.p.BotResponded()
	f.p.Wait()

	assert.Equal(t, []bool{true, false}, seen)
}

func TestPendingSlotIsOneShot(t *testing.T) {
	f := newFixture(t, false)

	_, ok := f.p.TakePending()
	assert.False(t, ok)

	f.p.SetPending("premier")
	f.p.SetPending("Je veux un devis")

	text, ok := f.p.TakePending()
	require.True(t, ok)
	assert.Equal(t, "Je veux un devis", text)

	_, ok = f.p.TakePending()
	assert.False(t, ok)
}

func TestSetPublisherSwapsConnection(t *testing.T) {
	f := newFixture(t, false)
	next := &fakePublisher{connected: true}
	f.p.SetPublisher(next)

	_, err := f.p.SendText(t.Context(), "x", nil)
	require.NoError(t, err)
	f.p.Wait()

	assert.Zero(t, f.pub.calls())
	assert.Equal(t, 1, next.calls())
}

func TestCloseAbandonsInflight(t *testing.T) {
	f := newFixture(t, false)
	f.hook.block = make(chan struct{})

	_, err := f.p.SendText(t.Context(), "lent", nil)
	require.NoError(t, err)

	f.p.Close()
	assert.Empty(t, f.hook.sent())

	_, err = f.p.SendText(t.Context(), "après", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCanceledContext(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := f.p.SendText(ctx, "x", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.store.Len())
}
