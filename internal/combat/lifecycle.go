package combat

import (
	"fmt"

	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/models"
)

// Command 会话生命周期命令
type Command string

const (
	CommandStart  Command = "start"
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
	CommandStop   Command = "stop"
)

// lifecycleTransition 状态转换定义
type lifecycleTransition struct {
	From    models.SessionStatus
	Command Command
	To      models.SessionStatus
}

// Lifecycle 会话状态转换表
//
//	created → ongoing ⇄ paused
//	ongoing | paused → ended
type Lifecycle struct {
	transitions map[string]lifecycleTransition
}

// NewLifecycle 创建状态转换表
func NewLifecycle() *Lifecycle {
	l := &Lifecycle{transitions: make(map[string]lifecycleTransition)}
	l.add(models.SessionCreated, CommandStart, models.SessionOngoing)
	l.add(models.SessionOngoing, CommandPause, models.SessionPaused)
	l.add(models.SessionPaused, CommandStart, models.SessionOngoing)
	l.add(models.SessionPaused, CommandResume, models.SessionOngoing)
	l.add(models.SessionOngoing, CommandStop, models.SessionEnded)
	l.add(models.SessionPaused, CommandStop, models.SessionEnded)
	return l
}

func (l *Lifecycle) add(from models.SessionStatus, cmd Command, to models.SessionStatus) {
	l.transitions[l.key(from, cmd)] = lifecycleTransition{From: from, Command: cmd, To: to}
}

func (l *Lifecycle) key(state models.SessionStatus, cmd Command) string {
	return fmt.Sprintf("%s:%s", state, cmd)
}

// Next 返回命令执行后的状态，不允许的转换返回 WrongModelState
func (l *Lifecycle) Next(from models.SessionStatus, cmd Command) (models.SessionStatus, error) {
	t, ok := l.transitions[l.key(from, cmd)]
	if !ok {
		return from, errors.Newf(errors.ErrWrongModelState, "状态=%s, 命令=%s", from, cmd)
	}
	return t.To, nil
}

// requireOngoing 战斗操作只能在进行中的会话上执行
func requireOngoing(session *models.Session) error {
	if session.Status != models.SessionOngoing {
		return errors.Newf(errors.ErrWrongModelState, "会话 %s 当前状态为 %s", session.SessionID, session.Status)
	}
	return nil
}
