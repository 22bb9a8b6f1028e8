package websocket

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/wfunc/combat-table/internal/broker"
	"github.com/wfunc/combat-table/internal/combat"
	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/logger"
	"go.uber.org/zap"
)

// MessageHandler 处理客户端消息与连接变化
type MessageHandler interface {
	HandleConnect(c *Client)
	HandleMessage(c *Client, msg *Message)
	// sessionID 为断开前绑定的会话，last 表示该玩家已没有其他在线连接
	HandleDisconnect(c *Client, sessionID string, last bool)
}

// Hub WebSocket连接管理中心
type Hub struct {
	dir *Directory

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	handler MessageHandler
	opts    Options
	logger  *zap.Logger
}

// NewHub 创建Hub
func NewHub(dir *Directory, log *zap.Logger) *Hub {
	if dir == nil {
		dir = NewDirectory()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		dir:        dir,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		opts:       DefaultOptions(),
		logger:     log,
	}
}

// SetOptions 设置连接参数，需在 Run 之前调用
func (h *Hub) SetOptions(opts Options) {
	h.opts = opts.normalize()
}

// SetHandler 设置消息处理器，需在 Run 之前调用
func (h *Hub) SetHandler(handler MessageHandler) {
	h.handler = handler
}

// Directory 连接目录
func (h *Hub) Directory() *Directory {
	return h.dir
}

// Run 运行Hub，ctx 结束时关闭所有连接
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			// 逐个注销，让处理器更新在线状态
			clients := h.dir.Clients()
			for _, c := range clients {
				h.unregisterClient(c)
				c.conn.Close()
			}
			h.logger.Info("WebSocket Hub已停止", zap.Int("closed", len(clients)))
			return nil
		}
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.dir.Add(client)

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.Uint("party_id", client.PartyID))

	msg, _ := NewMessage(MessageTypeConnected, map[string]interface{}{
		"client_id": client.ID,
		"party_id":  client.PartyID,
	})
	h.SendToClient(client, msg)

	if h.handler != nil {
		h.handler.HandleConnect(client)
	}
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	session := h.dir.SessionOf(client)
	if !h.dir.Remove(client) {
		return
	}

	h.logger.Info("WebSocket客户端断开",
		zap.String("client_id", client.ID),
		zap.Uint("party_id", client.PartyID))

	if h.handler != nil {
		h.handler.HandleDisconnect(client, session, !h.dir.Online(client.PartyID))
	}
}

// Serve 接管已升级的连接并启动读写循环
func (h *Hub) Serve(conn *websocket.Conn, party uint) *Client {
	client := NewClient(h, conn, party)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return client
	}
	go client.WritePump()
	go client.ReadPump()
	return client
}

// Done Run 退出后关闭
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Unregister 注销客户端，Hub 已停止时直接返回
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(client *Client, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, errors.ErrMessageFormat)
	}
	if !h.dir.sendClient(client, data) {
		return errors.New(errors.ErrWebSocketSend, client.ID)
	}
	logger.LogWebSocketMessage("send", message.Type, client.PartyID)
	return nil
}

// Send 把交互请求发给玩家的所有连接，玩家不在线时返回 PartyOffline
func (h *Hub) Send(party broker.PartyID, env *broker.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, errors.ErrMessageFormat)
	}
	if h.dir.sendParty(party, data) == 0 {
		return errors.Newf(errors.ErrPartyOffline, "玩家 %d 不在线", party)
	}
	logger.LogWebSocketMessage("send", env.Type, party)
	return nil
}

// SendToSession 发送消息给会话内的所有连接
func (h *Hub) SendToSession(sessionID string, message *Message) error {
	message.SessionID = sessionID
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, errors.ErrMessageFormat)
	}
	if h.dir.sendSession(sessionID, data) == 0 {
		return errors.Newf(errors.ErrWebSocketSend, "会话 %s 没有在线连接", sessionID)
	}
	return nil
}

// Publish 把战斗事件推送给会话内的玩家
func (h *Hub) Publish(sessionID string, event *combat.Event) {
	msg, err := NewMessage(MessageTypeEvent, event)
	if err != nil {
		h.logger.Error("序列化战斗事件失败", zap.String("type", event.Type), zap.Error(err))
		return
	}
	if err := h.SendToSession(sessionID, msg); err != nil {
		h.logger.Debug("战斗事件未送达",
			zap.String("session_id", sessionID),
			zap.String("type", event.Type),
			zap.Error(err))
	}
}

// OnlineParties 在线玩家
func (h *Hub) OnlineParties() []uint {
	return h.dir.Parties()
}

// GetOnlineCount 获取在线连接数
func (h *Hub) GetOnlineCount() int {
	return h.dir.Count()
}
