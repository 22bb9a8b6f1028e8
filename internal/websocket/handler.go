package websocket

import (
	"context"
	"time"

	"github.com/wfunc/combat-table/internal/broker"
	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/models"
	"go.uber.org/zap"
)

// Replier 接收交互回复的一方
type Replier interface {
	Deliver(party broker.PartyID, correlationID string, payload []byte) error
	OnDisconnect(party broker.PartyID)
}

// Presence 会话在线状态存储
type Presence interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	SetConnected(ctx context.Context, sessionID string, party uint, connected bool) error
}

// CombatHandler 战斗桌面的消息处理器
type CombatHandler struct {
	hub      *Hub
	replies  Replier
	presence Presence
	logger   *zap.Logger

	// 单次存储操作超时
	timeout time.Duration
}

// NewCombatHandler 创建处理器并挂到 Hub 上
func NewCombatHandler(hub *Hub, replies Replier, presence Presence, log *zap.Logger) *CombatHandler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &CombatHandler{
		hub:      hub,
		replies:  replies,
		presence: presence,
		logger:   log,
		timeout:  5 * time.Second,
	}
	hub.SetHandler(h)
	return h
}

// HandleConnect 连接建立
func (h *CombatHandler) HandleConnect(c *Client) {
	h.logger.Debug("玩家上线", zap.Uint("party_id", c.PartyID), zap.String("client_id", c.ID))
}

// HandleMessage 按消息类型分发
func (h *CombatHandler) HandleMessage(c *Client, msg *Message) {
	switch msg.Type {
	case MessageTypePing:
		c.SendMessage(MessageTypePong, nil)

	case MessageTypePong:
		h.logger.Debug("收到pong", zap.String("client_id", c.ID))

	case MessageTypeJoinSession:
		h.join(c, msg.SessionID)

	case MessageTypeLeaveSession:
		if prev := h.hub.dir.Join(c, ""); prev != "" {
			h.setConnected(prev, c.PartyID, false)
			c.SendMessage(MessageTypeLeft, map[string]string{"session_id": prev})
		}

	case MessageTypeInteractionReply:
		if msg.CorrelationID == "" {
			c.SendError(errors.New(errors.ErrInvalidParam, "缺少 correlation_id"))
			return
		}
		if err := h.replies.Deliver(c.PartyID, msg.CorrelationID, msg.Data); err != nil {
			h.logger.Debug("交互回复被丢弃",
				zap.Uint("party_id", c.PartyID),
				zap.String("correlation_id", msg.CorrelationID),
				zap.Error(err))
			c.SendError(errors.Wrap(err, errors.ErrInvalidParam, "交互回复无效"))
		}

	default:
		h.logger.Warn("收到不支持的消息类型",
			zap.String("client_id", c.ID),
			zap.String("type", msg.Type))
		c.SendError(errors.New(errors.ErrMessageFormat, "不支持的消息类型: "+msg.Type))
	}
}

// join 把连接绑定到会话并记录玩家在线
func (h *CombatHandler) join(c *Client, sessionID string) {
	if sessionID == "" {
		c.SendError(errors.New(errors.ErrInvalidParam, "缺少 session_id"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if _, err := h.presence.GetSession(ctx, sessionID); err != nil {
		c.SendError(err)
		return
	}

	prev := h.hub.dir.Join(c, sessionID)
	if prev != "" && prev != sessionID && !h.hub.dir.InSession(c.PartyID, prev) {
		h.setConnected(prev, c.PartyID, false)
	}
	h.setConnected(sessionID, c.PartyID, true)
	c.SendMessage(MessageTypeJoined, map[string]string{"session_id": sessionID})
}

// HandleDisconnect 连接断开：更新会话在线状态，玩家完全离线时通知交互代理
func (h *CombatHandler) HandleDisconnect(c *Client, sessionID string, last bool) {
	if sessionID != "" && !h.hub.dir.InSession(c.PartyID, sessionID) {
		h.setConnected(sessionID, c.PartyID, false)
	}
	if last {
		h.replies.OnDisconnect(c.PartyID)
	}
}

func (h *CombatHandler) setConnected(sessionID string, party uint, connected bool) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.presence.SetConnected(ctx, sessionID, party, connected); err != nil {
		h.logger.Warn("更新在线状态失败",
			zap.String("session_id", sessionID),
			zap.Uint("party_id", party),
			zap.Bool("connected", connected),
			zap.Error(err))
	}
}
