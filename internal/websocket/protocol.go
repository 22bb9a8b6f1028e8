package websocket

import (
	"encoding/json"
	"time"
)

// 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"

	// 会话
	MessageTypeJoinSession  = "join_session"
	MessageTypeLeaveSession = "leave_session"
	MessageTypeJoined       = "joined"
	MessageTypeLeft         = "left"

	// 战斗
	MessageTypeEvent            = "event"
	MessageTypeInteractionReply = "interaction_reply"
)

// Message 客户端与服务端之间的JSON消息
//
// 交互请求直接以 broker.Envelope 下发，类型为 interaction_request。
type Message struct {
	Type          string          `json:"type"`
	SessionID     string          `json:"session_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     int64           `json:"timestamp"`
}

// NewMessage 创建消息，data 为 nil 时不带数据
func NewMessage(msgType string, data interface{}) (*Message, error) {
	msg := &Message{Type: msgType, Timestamp: time.Now().Unix()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return msg, nil
}

// errorPayload 错误消息内容
type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
