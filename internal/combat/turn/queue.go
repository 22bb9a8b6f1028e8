// Package turn 先攻顺序队列
//
// 队列中的位置始终是稠密的 0..N-1，位置0为当前行动实体。
package turn

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyQueued = errors.New("实体已在先攻队列中")
	ErrNotQueued     = errors.New("实体不在先攻队列中")
	ErrWrongTurn     = errors.New("不是该实体的回合")
	ErrEmptyQueue    = errors.New("先攻队列为空")
)

// Queue 单个会话的先攻队列，非并发安全，由调用方持有会话锁
type Queue struct {
	order []string
}

// New 按给定顺序创建队列
func New(ids ...string) (*Queue, error) {
	q := &Queue{order: make([]string, 0, len(ids))}
	for _, id := range ids {
		if err := q.Append(id); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Len 队列长度
func (q *Queue) Len() int { return len(q.order) }

// IDs 返回按位置排序的实体ID副本
func (q *Queue) IDs() []string {
	out := make([]string, len(q.order))
	copy(out, q.order)
	return out
}

// Positions 返回实体ID到位置的映射
func (q *Queue) Positions() map[string]int {
	out := make(map[string]int, len(q.order))
	for i, id := range q.order {
		out[id] = i
	}
	return out
}

// Contains 实体是否在队列中
func (q *Queue) Contains(id string) bool {
	return q.indexOf(id) >= 0
}

// Current 当前行动实体
func (q *Queue) Current() (string, error) {
	if len(q.order) == 0 {
		return "", ErrEmptyQueue
	}
	return q.order[0], nil
}

// IsTurnOf 是否轮到该实体
func (q *Queue) IsTurnOf(id string) bool {
	cur, err := q.Current()
	return err == nil && cur == id
}

// Append 追加到队尾
func (q *Queue) Append(id string) error {
	if q.Contains(id) {
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, id)
	}
	q.order = append(q.order, id)
	return nil
}

// Remove 移出队列，后续实体位置前移
func (q *Queue) Remove(id string) error {
	i := q.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotQueued, id)
	}
	q.order = append(q.order[:i], q.order[i+1:]...)
	return nil
}

// EndTurn 结束当前回合：当前实体移到队尾，返回被移动的实体ID
func (q *Queue) EndTurn() (string, error) {
	if len(q.order) == 0 {
		return "", ErrEmptyQueue
	}
	head := q.order[0]
	copy(q.order, q.order[1:])
	q.order[len(q.order)-1] = head
	return head, nil
}

// Postpone 当前实体推迟行动，排到 predecessor 之后
//
// 只有当前行动实体可以推迟。predecessor 原位置及之前的实体各前移一位，
// 推迟的实体占据 predecessor 的原位置。
func (q *Queue) Postpone(id, predecessor string) error {
	if !q.Contains(id) {
		return fmt.Errorf("%w: %s", ErrNotQueued, id)
	}
	p := q.indexOf(predecessor)
	if p < 0 {
		return fmt.Errorf("%w: %s", ErrNotQueued, predecessor)
	}
	if !q.IsTurnOf(id) {
		return fmt.Errorf("%w: %s", ErrWrongTurn, id)
	}
	if id == predecessor {
		return nil
	}
	// 当前实体位于0，0 < p
	copy(q.order[0:p], q.order[1:p+1])
	q.order[p] = id
	return nil
}

func (q *Queue) indexOf(id string) int {
	for i, v := range q.order {
		if v == id {
			return i
		}
	}
	return -1
}
