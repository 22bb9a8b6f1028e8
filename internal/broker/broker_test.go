package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeChannel 记录下发的请求，offline 中的玩家发送失败
type fakeChannel struct {
	mu      sync.Mutex
	offline map[PartyID]bool
	sent    map[PartyID][]*Envelope
	onSend  func(party PartyID, env *Envelope)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		offline: make(map[PartyID]bool),
		sent:    make(map[PartyID][]*Envelope),
	}
}

func (c *fakeChannel) Send(party PartyID, env *Envelope) error {
	c.mu.Lock()
	if c.offline[party] {
		c.mu.Unlock()
		return errors.New("offline")
	}
	c.sent[party] = append(c.sent[party], env)
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook(party, env)
	}
	return nil
}

func (c *fakeChannel) last(party PartyID) *Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	envs := c.sent[party]
	if len(envs) == 0 {
		return nil
	}
	return envs[len(envs)-1]
}

// waitSent 等待玩家收到请求
func (c *fakeChannel) waitSent(t *testing.T, party PartyID) *Envelope {
	t.Helper()
	var env *Envelope
	require.Eventually(t, func() bool {
		env = c.last(party)
		return env != nil
	}, time.Second, 5*time.Millisecond)
	return env
}

func newTestBroker(ch Channel) *Broker {
	return New(ch, Config{DefaultTimeout: time.Second, MaxTimeout: 5 * time.Second}, zap.NewNop())
}

func TestRequestAllReply(t *testing.T) {
	ch := newFakeChannel()
	b := newTestBroker(ch)
	ch.onSend = func(party PartyID, env *Envelope) {
		go b.Deliver(party, env.CorrelationID, []byte(`{"value":7}`))
	}

	start := time.Now()
	out, err := b.Request(context.Background(), []PartyID{1, 2}, Prompt{Kind: "damage_roll", SessionID: "s1"}, time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "全部回复后应立即返回")
	assert.False(t, out.TimedOut)
	assert.Empty(t, out.Missing)
	assert.Len(t, out.Replies, 2)

	type roll struct {
		Value int `json:"value"`
	}
	v, ok, err := Decode[roll](out, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, v.Value)

	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, int64(1), b.Stats().Completed)
}

func TestRequestPartialTimeout(t *testing.T) {
	ch := newFakeChannel()
	b := newTestBroker(ch)
	deadline := 300 * time.Millisecond

	ch.onSend = func(party PartyID, env *Envelope) {
		if party == 3 {
			return
		}
		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = b.Deliver(party, env.CorrelationID, json.RawMessage(`true`))
		}()
	}

	start := time.Now()
	out, err := b.Request(context.Background(), []PartyID{1, 2, 3}, Prompt{Kind: "reaction"}, deadline)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, elapsed, deadline)
	assert.Less(t, elapsed, deadline+200*time.Millisecond)
	assert.True(t, out.TimedOut)
	assert.Equal(t, []PartyID{3}, out.Missing)
	assert.True(t, out.Responded(1))
	assert.True(t, out.Responded(2))
	assert.False(t, out.Responded(3))
	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, int64(1), b.Stats().TimedOut)
}

func TestUnreachableResponder(t *testing.T) {
	ch := newFakeChannel()
	ch.offline[2] = true
	b := newTestBroker(ch)

	t.Run("全部不可达立即返回", func(t *testing.T) {
		start := time.Now()
		out, err := b.Request(context.Background(), []PartyID{2}, Prompt{Kind: "damage_roll"}, time.Second)
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
		assert.True(t, out.TimedOut)
		assert.Equal(t, []PartyID{2}, out.Missing)
	})

	t.Run("部分不可达不阻塞其他玩家", func(t *testing.T) {
		ch.onSend = func(party PartyID, env *Envelope) {
			go b.Deliver(party, env.CorrelationID, []byte(`{}`))
		}
		defer func() { ch.onSend = nil }()

		out, err := b.Request(context.Background(), []PartyID{1, 2}, Prompt{}, time.Second)
		require.NoError(t, err)
		assert.True(t, out.Responded(1))
		assert.Equal(t, []PartyID{2}, out.Missing)
	})
}

func TestDisconnectDuringRequest(t *testing.T) {
	ch := newFakeChannel()
	b := newTestBroker(ch)

	done := make(chan *Outcome, 1)
	go func() {
		out, _ := b.Request(context.Background(), []PartyID{1, 2}, Prompt{}, 5*time.Second)
		done <- out
	}()

	env := ch.waitSent(t, 1)
	ch.waitSent(t, 2)
	require.NoError(t, b.Deliver(1, env.CorrelationID, []byte(`{}`)))
	b.OnDisconnect(2)

	select {
	case out := <-done:
		assert.True(t, out.TimedOut)
		assert.Equal(t, []PartyID{2}, out.Missing)
	case <-time.After(time.Second):
		t.Fatal("断线后请求应立即结束")
	}
}

func TestStaleAndDuplicateReplies(t *testing.T) {
	ch := newFakeChannel()
	b := newTestBroker(ch)

	assert.ErrorIs(t, b.Deliver(1, "no-such-id", []byte(`{}`)), ErrUnknownCorrelation)

	done := make(chan *Outcome, 1)
	go func() {
		out, _ := b.Request(context.Background(), []PartyID{1, 2}, Prompt{}, 2*time.Second)
		done <- out
	}()
	env := ch.waitSent(t, 1)
	ch.waitSent(t, 2)

	require.NoError(t, b.Deliver(1, env.CorrelationID, []byte(`1`)))
	assert.ErrorIs(t, b.Deliver(1, env.CorrelationID, []byte(`2`)), ErrDuplicateReply)
	assert.ErrorIs(t, b.Deliver(9, env.CorrelationID, []byte(`3`)), ErrUnexpectedResponder)
	require.NoError(t, b.Deliver(2, env.CorrelationID, []byte(`4`)))

	out := <-done
	assert.False(t, out.TimedOut)
	assert.JSONEq(t, `1`, string(out.Replies[1]), "重复回复不应覆盖首次回复")

	// 已结束的请求再回复视为过期
	assert.ErrorIs(t, b.Deliver(2, env.CorrelationID, []byte(`5`)), ErrUnknownCorrelation)
	assert.Equal(t, int64(4), b.Stats().Discarded)
}

func TestCallerCancel(t *testing.T) {
	ch := newFakeChannel()
	b := newTestBroker(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.onSend = func(PartyID, *Envelope) { cancel() }

	out, err := b.Request(ctx, []PartyID{1}, Prompt{}, 300*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, out)
	assert.True(t, out.TimedOut)
	assert.Equal(t, []PartyID{1}, out.Missing)

	// 等待记录保留到截止时间
	assert.Equal(t, 1, b.Pending())
	assert.Eventually(t, func() bool { return b.Pending() == 0 }, time.Second, 10*time.Millisecond)
}

func TestPerPartyData(t *testing.T) {
	ch := newFakeChannel()
	b := newTestBroker(ch)
	ch.onSend = func(party PartyID, env *Envelope) {
		go b.Deliver(party, env.CorrelationID, []byte(`{}`))
	}

	prompt := Prompt{
		Kind: "saving_throw",
		Data: "shared",
		PerParty: map[PartyID]any{
			2: map[string]int{"goblin": 2},
		},
	}
	_, err := b.Request(context.Background(), []PartyID{1, 2, 2}, prompt, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "shared", ch.last(1).Data)
	assert.Equal(t, map[string]int{"goblin": 2}, ch.last(2).Data)
	assert.Len(t, ch.sent[2], 1, "重复的玩家只发送一次")
	assert.Equal(t, EnvelopeType, ch.last(1).Type)
}

func TestTimeoutClamp(t *testing.T) {
	b := New(newFakeChannel(), Config{DefaultTimeout: 20 * time.Millisecond, MaxTimeout: 40 * time.Millisecond}, nil)

	start := time.Now()
	out, err := b.Request(context.Background(), []PartyID{1}, Prompt{}, time.Hour)
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
	assert.Less(t, time.Since(start), time.Second)

	b.SetTimeouts(10*time.Millisecond, 0)
	assert.Equal(t, 10*time.Millisecond, b.DefaultTimeout())
}

func TestEmptyRespondersAndClose(t *testing.T) {
	b := newTestBroker(newFakeChannel())

	out, err := b.Request(context.Background(), nil, Prompt{}, 0)
	require.NoError(t, err)
	assert.False(t, out.TimedOut)
	assert.Empty(t, out.Replies)

	done := make(chan *Outcome, 1)
	go func() {
		out, _ := b.Request(context.Background(), []PartyID{1}, Prompt{}, 5*time.Second)
		done <- out
	}()
	require.Eventually(t, func() bool { return b.Pending() == 1 }, time.Second, 5*time.Millisecond)

	b.Close()
	select {
	case out := <-done:
		assert.True(t, out.TimedOut)
	case <-time.After(time.Second):
		t.Fatal("Close 应结束等待中的请求")
	}

	_, err = b.Request(context.Background(), []PartyID{1}, Prompt{}, 0)
	assert.ErrorIs(t, err, ErrClosed)
}
