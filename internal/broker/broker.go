// Package broker 交互代理：把战斗结算过程中需要远端玩家操作的请求
// （掷伤害骰、豁免检定、是否使用反应）通过实时通道发出，并按关联ID收集回复。
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PartyID 远端玩家ID（与JWT中的用户ID一致）
type PartyID = uint

// EnvelopeType 下发的交互请求消息类型
const EnvelopeType = "interaction_request"

var (
	ErrUnknownCorrelation  = errors.New("未知或已结束的关联ID")
	ErrUnexpectedResponder = errors.New("回复方不在等待列表中")
	ErrDuplicateReply      = errors.New("重复回复")
	ErrClosed              = errors.New("交互代理已关闭")
)

// Prompt 交互请求内容
type Prompt struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
	Text      string `json:"text,omitempty"`
	Data      any    `json:"data,omitempty"`
	// PerParty 按玩家定制的数据，覆盖 Data
	PerParty map[PartyID]any `json:"-"`
}

// Envelope 发往单个玩家的交互请求
type Envelope struct {
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlation_id"`
	Kind          string    `json:"kind"`
	SessionID     string    `json:"session_id"`
	Text          string    `json:"text,omitempty"`
	Data          any       `json:"data,omitempty"`
	Deadline      time.Time `json:"deadline"`
}

// Channel 实时通道的发送端
type Channel interface {
	Send(party PartyID, env *Envelope) error
}

// Config 代理配置
type Config struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// Stats 代理运行统计
type Stats struct {
	Requests  int64 `json:"requests"`
	Completed int64 `json:"completed"`
	TimedOut  int64 `json:"timed_out"`
	Replies   int64 `json:"replies"`
	Discarded int64 `json:"discarded"`
}

// Broker 交互代理
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pending
	closed  bool

	channel Channel
	logger  *zap.Logger

	defaultTimeout atomic.Int64
	maxTimeout     atomic.Int64

	requests  atomic.Int64
	completed atomic.Int64
	timedOut  atomic.Int64
	replies   atomic.Int64
	discarded atomic.Int64
}

// New 创建交互代理
func New(channel Channel, cfg Config, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broker{
		pending: make(map[string]*pending),
		channel: channel,
		logger:  logger,
	}
	b.SetTimeouts(cfg.DefaultTimeout, cfg.MaxTimeout)
	return b
}

// SetTimeouts 运行时调整超时（配置热更新）
func (b *Broker) SetTimeouts(def, max time.Duration) {
	if def <= 0 {
		def = 30 * time.Second
	}
	if max < def {
		max = def
	}
	b.defaultTimeout.Store(int64(def))
	b.maxTimeout.Store(int64(max))
}

// DefaultTimeout 当前默认超时
func (b *Broker) DefaultTimeout() time.Duration {
	return time.Duration(b.defaultTimeout.Load())
}

// Request 向一组玩家发出交互请求并等待结果
//
// 所有玩家回复、或截止时间到达时返回。无法送达的玩家立即记为未响应。
// ctx 取消时调用方立即得到一个合成的超时结果和 ctx 的错误，
// 等待记录本身仍会保留到截止时间。
func (b *Broker) Request(ctx context.Context, responders []PartyID, prompt Prompt, timeout time.Duration) (*Outcome, error) {
	if timeout <= 0 {
		timeout = b.DefaultTimeout()
	}
	if max := time.Duration(b.maxTimeout.Load()); timeout > max {
		timeout = max
	}

	p := newPending(uuid.NewString(), responders, time.Now().Add(timeout))
	if len(p.expected) == 0 {
		return &Outcome{CorrelationID: p.id, Replies: map[PartyID]json.RawMessage{}}, nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.pending[p.id] = p
	// 先登记再发送，回复可能比 Send 返回更早到达
	p.timer = time.AfterFunc(timeout, func() { b.expire(p.id) })
	b.mu.Unlock()
	b.requests.Add(1)

	log := b.logger.With(
		zap.String("correlation_id", p.id),
		zap.String("kind", prompt.Kind),
		zap.String("session_id", prompt.SessionID),
	)
	log.Debug("发出交互请求", zap.Int("responders", len(p.expected)), zap.Duration("timeout", timeout))

	for _, party := range p.order {
		env := &Envelope{
			Type:          EnvelopeType,
			CorrelationID: p.id,
			Kind:          prompt.Kind,
			SessionID:     prompt.SessionID,
			Text:          prompt.Text,
			Data:          prompt.Data,
			Deadline:      p.deadline,
		}
		if data, ok := prompt.PerParty[party]; ok {
			env.Data = data
		}
		if err := b.channel.Send(party, env); err != nil {
			log.Info("玩家不可达，记为未响应", zap.Uint("party_id", party), zap.Error(err))
			b.markMissed(p.id, party)
		}
	}

	select {
	case <-p.done:
		return p.outcome, nil
	case <-ctx.Done():
		log.Info("调用方已取消，返回合成的超时结果", zap.Error(ctx.Err()))
		b.mu.Lock()
		out := p.snapshot()
		b.mu.Unlock()
		out.TimedOut = true
		return out, ctx.Err()
	}
}

// Deliver 记录一条回复
func (b *Broker) Deliver(party PartyID, correlationID string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[correlationID]
	if !ok {
		b.discarded.Add(1)
		b.logger.Debug("丢弃过期回复", zap.String("correlation_id", correlationID), zap.Uint("party_id", party))
		return ErrUnknownCorrelation
	}
	if _, expected := p.expected[party]; !expected {
		b.discarded.Add(1)
		return ErrUnexpectedResponder
	}
	if p.answered(party) {
		b.discarded.Add(1)
		return ErrDuplicateReply
	}

	p.replies[party] = append([]byte(nil), payload...)
	b.replies.Add(1)
	if p.complete() {
		b.settleLocked(p)
	}
	return nil
}

// OnDisconnect 玩家断线：其所有未回复的请求视为该玩家超时
func (b *Broker) OnDisconnect(party PartyID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pending {
		if _, expected := p.expected[party]; !expected || p.answered(party) {
			continue
		}
		p.missed[party] = true
		if p.complete() {
			b.settleLocked(p)
		}
	}
}

// Pending 当前等待中的请求数
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stats 返回统计信息
func (b *Broker) Stats() Stats {
	return Stats{
		Requests:  b.requests.Load(),
		Completed: b.completed.Load(),
		TimedOut:  b.timedOut.Load(),
		Replies:   b.replies.Load(),
		Discarded: b.discarded.Load(),
	}
}

// Close 结束所有等待中的请求，之后的 Request 返回 ErrClosed
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, p := range b.pending {
		b.settleLocked(p)
	}
}

func (b *Broker) markMissed(id string, party PartyID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[id]
	if !ok || p.answered(party) {
		return
	}
	p.missed[party] = true
	if p.complete() {
		b.settleLocked(p)
	}
}

func (b *Broker) expire(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pending[id]; ok {
		b.settleLocked(p)
	}
}

// settleLocked 结束请求并从表中移除，调用方持有 b.mu
func (b *Broker) settleLocked(p *pending) {
	if p.outcome != nil {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(b.pending, p.id)

	p.outcome = p.snapshot()
	if p.outcome.TimedOut {
		b.timedOut.Add(1)
		b.logger.Info("交互请求超时",
			zap.String("correlation_id", p.id),
			zap.Uints("missing", p.outcome.Missing))
	} else {
		b.completed.Add(1)
	}
	close(p.done)
}
