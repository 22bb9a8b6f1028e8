package broker

import (
	"encoding/json"
	"fmt"
)

// Outcome 交互请求的结果，Missing 中的玩家未在截止时间前回复
type Outcome struct {
	CorrelationID string                      `json:"correlation_id"`
	Replies       map[PartyID]json.RawMessage `json:"replies"`
	Missing       []PartyID                   `json:"missing,omitempty"`
	TimedOut      bool                        `json:"timed_out"`
}

// Responded 玩家是否回复
func (o *Outcome) Responded(party PartyID) bool {
	_, ok := o.Replies[party]
	return ok
}

// Decode 解析某个玩家的回复，未回复时 ok 为 false
func Decode[T any](o *Outcome, party PartyID) (v T, ok bool, err error) {
	raw, found := o.Replies[party]
	if !found {
		return v, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, true, fmt.Errorf("解析玩家 %d 的回复失败: %w", party, err)
	}
	return v, true, nil
}
