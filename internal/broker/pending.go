package broker

import (
	"encoding/json"
	"time"
)

// pending 等待中的交互请求，字段由 Broker.mu 保护
type pending struct {
	id       string
	order    []PartyID
	expected map[PartyID]struct{}
	replies  map[PartyID]json.RawMessage
	missed   map[PartyID]bool
	deadline time.Time
	timer    *time.Timer

	done    chan struct{}
	outcome *Outcome
}

func newPending(id string, responders []PartyID, deadline time.Time) *pending {
	p := &pending{
		id:       id,
		expected: make(map[PartyID]struct{}, len(responders)),
		replies:  make(map[PartyID]json.RawMessage, len(responders)),
		missed:   make(map[PartyID]bool),
		deadline: deadline,
		done:     make(chan struct{}),
	}
	for _, party := range responders {
		if _, dup := p.expected[party]; dup {
			continue
		}
		p.expected[party] = struct{}{}
		p.order = append(p.order, party)
	}
	return p
}

func (p *pending) answered(party PartyID) bool {
	if _, ok := p.replies[party]; ok {
		return true
	}
	return p.missed[party]
}

// complete 每个玩家都已回复或被记为未响应
func (p *pending) complete() bool {
	return len(p.replies)+len(p.missed) >= len(p.expected)
}

func (p *pending) snapshot() *Outcome {
	out := &Outcome{
		CorrelationID: p.id,
		Replies:       make(map[PartyID]json.RawMessage, len(p.replies)),
	}
	for _, party := range p.order {
		if r, ok := p.replies[party]; ok {
			out.Replies[party] = r
		} else {
			out.Missing = append(out.Missing, party)
		}
	}
	out.TimedOut = len(out.Missing) > 0
	return out
}
