// ABOUTME: Tests for the conversation data model helpers
// ABOUTME: Covers block ID assignment, lookups, selector parsing and deep cloning

package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AssignsStableBlockIDs(t *testing.T) {
	m := New("42-bot", false, time.Now(),
		TextBlock("hello"),
		Block{Kind: KindButton, Buttons: []Button{{ID: "a", Title: "A"}}},
	)

	require.Len(t, m.Blocks, 2)
	assert.Equal(t, "42-bot#0", m.Blocks[0].ID)
	assert.Equal(t, "42-bot#1", m.Blocks[1].ID)
	assert.Equal(t, 1, m.IndexOf("42-bot#1"))
	assert.Equal(t, -1, m.IndexOf("missing"))
}

func TestNew_KeepsExplicitBlockID(t *testing.T) {
	m := New("m1", true, time.Now(), Block{ID: "custom", Kind: KindText})
	assert.Equal(t, "custom", m.Blocks[0].ID)
}

func TestMessage_Block(t *testing.T) {
	m := New("m1", true, time.Now(), TextBlock("x"))

	b, ok := m.Block(0)
	assert.True(t, ok)
	assert.Equal(t, "x", b.Text)

	_, ok = m.Block(1)
	assert.False(t, ok)
	_, ok = m.Block(-1)
	assert.False(t, ok)
}

func TestMessage_CloneDoesNotAlias(t *testing.T) {
	m := New("m1", false, time.Now(), Block{
		Kind:      KindList,
		ListItems: []ListItem{{ID: "1", Title: "One"}},
	})

	c := m.Clone()
	c.Blocks[0].ListItems[0].Title = "changed"
	c.Blocks[0].Text = "changed"

	assert.Equal(t, "One", m.Blocks[0].ListItems[0].Title)
	assert.Empty(t, m.Blocks[0].Text)
}

func TestParseSelector(t *testing.T) {
	assert.Equal(t, SelectorMultiple, ParseSelector("multiple"))
	assert.Equal(t, SelectorUnique, ParseSelector("unique"))
	assert.Equal(t, SelectorUnique, ParseSelector(""))
	assert.Equal(t, SelectorUnique, ParseSelector("bogus"))
}

func TestBlock_Interactive(t *testing.T) {
	assert.True(t, Block{Kind: KindButton}.Interactive())
	assert.True(t, Block{Kind: KindList}.Interactive())
	assert.True(t, Block{Kind: KindForm}.Interactive())
	assert.False(t, Block{Kind: KindAudio}.Interactive())
}
