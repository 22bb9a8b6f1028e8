package websocket

import (
	"sync"
)

// Directory 在线连接目录：玩家 → 连接、会话 → 连接
//
// 发送通道只在持有锁时写入或关闭。
type Directory struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	parties  map[uint]map[string]*Client
	sessions map[string]map[string]*Client
}

// NewDirectory 创建连接目录
func NewDirectory() *Directory {
	return &Directory{
		clients:  make(map[string]*Client),
		parties:  make(map[uint]map[string]*Client),
		sessions: make(map[string]map[string]*Client),
	}
}

// Add 登记连接
func (d *Directory) Add(c *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clients[c.ID] = c
	if d.parties[c.PartyID] == nil {
		d.parties[c.PartyID] = make(map[string]*Client)
	}
	d.parties[c.PartyID][c.ID] = c
}

// Remove 移除连接并关闭发送通道，返回连接是否存在
func (d *Directory) Remove(c *Client) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.clients[c.ID]; !ok {
		return false
	}
	delete(d.clients, c.ID)
	if set := d.parties[c.PartyID]; set != nil {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(d.parties, c.PartyID)
		}
	}
	d.leaveLocked(c)
	close(c.send)
	return true
}

// Join 把连接绑定到会话，返回之前绑定的会话；sessionID 为空时解除绑定
func (d *Directory) Join(c *Client, sessionID string) (previous string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.clients[c.ID]; !ok {
		return ""
	}
	previous = c.sessionID
	d.leaveLocked(c)
	if sessionID == "" {
		return previous
	}
	c.sessionID = sessionID
	if d.sessions[sessionID] == nil {
		d.sessions[sessionID] = make(map[string]*Client)
	}
	d.sessions[sessionID][c.ID] = c
	return previous
}

func (d *Directory) leaveLocked(c *Client) {
	if c.sessionID == "" {
		return
	}
	if set := d.sessions[c.sessionID]; set != nil {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(d.sessions, c.sessionID)
		}
	}
	c.sessionID = ""
}

// SessionOf 连接当前绑定的会话
func (d *Directory) SessionOf(c *Client) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return c.sessionID
}

// Online 玩家是否有在线连接
func (d *Directory) Online(party uint) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.parties[party]) > 0
}

// InSession 玩家是否还有连接绑定在该会话
func (d *Directory) InSession(party uint, sessionID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.sessions[sessionID] {
		if c.PartyID == party {
			return true
		}
	}
	return false
}

// Parties 在线玩家列表
func (d *Directory) Parties() []uint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]uint, 0, len(d.parties))
	for p := range d.parties {
		out = append(out, p)
	}
	return out
}

// Count 在线连接数
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.clients)
}

// sendClient 写入单个连接，缓冲区满时丢弃
func (d *Directory) sendClient(c *Client, data []byte) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.clients[c.ID]; !ok {
		return false
	}
	return trySend(c, data)
}

// sendParty 写入玩家的所有连接，返回成功写入的连接数
func (d *Directory) sendParty(party uint, data []byte) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, c := range d.parties[party] {
		if trySend(c, data) {
			n++
		}
	}
	return n
}

// sendSession 写入会话内的所有连接
func (d *Directory) sendSession(sessionID string, data []byte) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, c := range d.sessions[sessionID] {
		if trySend(c, data) {
			n++
		}
	}
	return n
}

// Clients 当前所有连接
func (d *Directory) Clients() []*Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Client, 0, len(d.clients))
	for _, c := range d.clients {
		out = append(out, c)
	}
	return out
}

func trySend(c *Client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}
