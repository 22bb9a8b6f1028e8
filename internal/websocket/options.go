package websocket

import "time"

// Options 连接参数，零值字段使用默认值
type Options struct {
	// 单条消息最大字节数
	MaxMessageSize int64
	// ping 发送周期，必须小于 PongTimeout
	PingInterval time.Duration
	// 等待 pong 的超时
	PongTimeout time.Duration
	// 单次写超时
	WriteTimeout time.Duration
	// 每个连接的发送缓冲
	SendBufferSize int
}

// DefaultOptions 默认连接参数
func DefaultOptions() Options {
	return Options{
		MaxMessageSize: 64 * 1024,
		PingInterval:   54 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendBufferSize: 256,
	}
}

// normalize 补齐零值，ping 周期不小于 pong 超时时取其 9/10
func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = def.MaxMessageSize
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = def.PongTimeout
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongTimeout {
		o.PingInterval = o.PongTimeout * 9 / 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = def.SendBufferSize
	}
	return o
}
