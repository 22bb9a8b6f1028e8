package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/logger"
	"go.uber.org/zap"
)

// Client WebSocket客户端
type Client struct {
	ID      string // 客户端ID
	PartyID uint   // 玩家ID

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// 绑定的会话，由 Directory 的锁保护
	sessionID string
}

// NewClient 创建新客户端
func NewClient(hub *Hub, conn *websocket.Conn, party uint) *Client {
	return &Client{
		ID:      uuid.New().String(),
		PartyID: party,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, hub.opts.SendBufferSize),
	}
}

// SessionID 当前绑定的会话
func (c *Client) SessionID() string {
	return c.hub.dir.SessionOf(c)
}

// ReadPump 读取消息
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	opts := c.hub.opts
	c.conn.SetReadLimit(opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket读取错误",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			break
		}

		c.handleMessage(message)
	}
}

// WritePump 写入消息，每条消息单独一帧
func (c *Client) WritePump() {
	opts := c.hub.opts
	ticker := time.NewTicker(opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if !ok {
				// Hub关闭了通道
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.logger.Warn("解析WebSocket消息失败",
			zap.String("client_id", c.ID),
			zap.Error(err))
		c.SendError(errors.New(errors.ErrMessageFormat, "消息格式错误"))
		return
	}
	if msg.Type == "" {
		c.SendError(errors.New(errors.ErrMessageFormat, "消息类型不能为空"))
		return
	}
	logger.LogWebSocketMessage("receive", msg.Type, c.PartyID)

	if c.hub.handler == nil {
		c.SendError(errors.New(errors.ErrMessageFormat, "不支持的消息类型: "+msg.Type))
		return
	}
	c.hub.handler.HandleMessage(c, &msg)
}

// SendMessage 发送消息给客户端
func (c *Client) SendMessage(msgType string, data interface{}) error {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		return errors.Wrap(err, errors.ErrMessageFormat)
	}
	msg.SessionID = c.SessionID()
	return c.hub.SendToClient(c, msg)
}

// SendError 发送错误消息
func (c *Client) SendError(err error) {
	appErr := errors.From(err)
	c.SendMessage(MessageTypeError, errorPayload{Code: int(appErr.Code), Message: appErr.Error()})
}
