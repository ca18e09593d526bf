package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrieSubscribeAndMatch(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		trie := NewTrie()
		require.NoError(t, trie.Subscribe("home/temperature", SubscriberInfo{ClientID: "c1", QoS: 1}))

		subs := trie.Match("home/temperature")
		require.Len(t, subs, 1)
		assert.Equal(t, "c1", subs[0].ClientID)
	})

	t.Run("single level wildcard", func(t *testing.T) {
		trie := NewTrie()
		require.NoError(t, trie.Subscribe("home/+/temperature", SubscriberInfo{ClientID: "c1", QoS: 0}))

		assert.Len(t, trie.Match("home/kitchen/temperature"), 1)
		assert.Len(t, trie.Match("home/kitchen/den/temperature"), 0)
	})

	t.Run("multi level wildcard", func(t *testing.T) {
		trie := NewTrie()
		require.NoError(t, trie.Subscribe("home/#", SubscriberInfo{ClientID: "c1", QoS: 0}))

		assert.Len(t, trie.Match("home"), 1)
		assert.Len(t, trie.Match("home/kitchen/temperature"), 1)
	})

	t.Run("repeat subscribe replaces qos", func(t *testing.T) {
		trie := NewTrie()
		require.NoError(t, trie.Subscribe("a/b", SubscriberInfo{ClientID: "c1", QoS: 0}))
		require.NoError(t, trie.Subscribe("a/b", SubscriberInfo{ClientID: "c1", QoS: 2}))

		subs := trie.Match("a/b")
		require.Len(t, subs, 1)
		assert.Equal(t, byte(2), subs[0].QoS)
	})

	t.Run("dedup keeps highest qos across multiple matching filters", func(t *testing.T) {
		trie := NewTrie()
		require.NoError(t, trie.Subscribe("a/b", SubscriberInfo{ClientID: "c1", QoS: 0}))
		require.NoError(t, trie.Subscribe("a/+", SubscriberInfo{ClientID: "c1", QoS: 2}))

		subs := trie.Match("a/b")
		require.Len(t, subs, 1)
		assert.Equal(t, byte(2), subs[0].QoS)
	})

	t.Run("invalid filter rejected", func(t *testing.T) {
		trie := NewTrie()
		err := trie.Subscribe("a/#/b", SubscriberInfo{ClientID: "c1", QoS: 0})
		assert.Error(t, err)
	})
}

func TestTrieUnsubscribe(t *testing.T) {
	trie := NewTrie()
	require.NoError(t, trie.Subscribe("a/b", SubscriberInfo{ClientID: "c1", QoS: 0}))

	assert.True(t, trie.Unsubscribe("a/b", "c1"))
	assert.False(t, trie.Unsubscribe("a/b", "c1"))
	assert.Len(t, trie.Match("a/b"), 0)
	assert.Equal(t, 0, trie.Count())
}

func TestTriePurgeClient(t *testing.T) {
	trie := NewTrie()
	require.NoError(t, trie.Subscribe("a/b", SubscriberInfo{ClientID: "c1", QoS: 0}))
	require.NoError(t, trie.Subscribe("a/c", SubscriberInfo{ClientID: "c1", QoS: 0}))
	require.NoError(t, trie.Subscribe("a/c", SubscriberInfo{ClientID: "c2", QoS: 0}))

	removed := trie.PurgeClient("c1")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, trie.Count())
	assert.Len(t, trie.Match("a/c"), 1)
}

func TestTrieClearAndCount(t *testing.T) {
	trie := NewTrie()
	require.NoError(t, trie.Subscribe("a/b", SubscriberInfo{ClientID: "c1", QoS: 0}))
	require.NoError(t, trie.Subscribe("a/c", SubscriberInfo{ClientID: "c2", QoS: 0}))

	assert.Equal(t, 2, trie.Count())
	trie.Clear()
	assert.Equal(t, 0, trie.Count())
}

func BenchmarkTrieSubscribe(b *testing.B) {
	trie := NewTrie()
	sub := SubscriberInfo{ClientID: "client1", QoS: 1}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = trie.Subscribe("home/kitchen/temperature", sub)
	}
}

func BenchmarkTrieMatch(b *testing.B) {
	trie := NewTrie()
	_ = trie.Subscribe("home/+/temperature", SubscriberInfo{ClientID: "client1", QoS: 1})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		trie.Match("home/kitchen/temperature")
	}
}
