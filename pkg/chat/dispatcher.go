package chat

import (
	"errors"

	"github.com/aeolun/linechat/pkg/protocol"
)

// Dispatcher executes the commands of one authenticated session
type Dispatcher struct {
	hub  *Hub
	sess *Session
}

// NewDispatcher creates the dispatcher for sess
func NewDispatcher(hub *Hub, sess *Session) *Dispatcher {
	return &Dispatcher{hub: hub, sess: sess}
}

// Dispatch parses and runs one input line. It returns true when the line
// ends the session (logout).
func (d *Dispatcher) Dispatch(line string) bool {
	cmd := protocol.ParseCommand(line)
	if cmd.Kind == protocol.CommandLogout {
		d.sess.send(protocol.Farewell)
		return true
	}

	if cmd.Kind != protocol.CommandNull {
		d.sess.touch()
	}
	d.hub.stats.Increment(cmd.Kind.String())
	d.hub.metrics.RecordCommand(cmd.Kind.String())
	debugLog.Printf("Session %s: running %s", d.sess.label(), cmd.Kind)

	switch cmd.Kind {
	case protocol.CommandNull:
		d.sess.send(protocol.NullCommand)
	case protocol.CommandWhoElse:
		d.handleWhoElse()
	case protocol.CommandWhoLastHr:
		d.handleWhoLastHr()
	case protocol.CommandHelp:
		d.sess.send(protocol.Help(d.hub.recent.Window())...)
	case protocol.CommandAnalysis:
		d.sess.send(d.hub.stats.ReportLines()...)
	case protocol.CommandBroadcast:
		d.handleBroadcast(cmd.Body)
	case protocol.CommandBlock:
		d.handleBlock(cmd.Target)
	case protocol.CommandUnblock:
		d.handleUnblock(cmd.Target)
	case protocol.CommandMessage:
		d.handleMessage(cmd.Target, cmd.Body)
	default:
		d.sess.send(protocol.UnknownCommand)
	}
	return false
}

func (d *Dispatcher) handleWhoElse() {
	d.sess.send(d.others(d.hub.registry.Usernames())...)
}

func (d *Dispatcher) handleWhoLastHr() {
	recent := d.hub.recent.Refresh(d.hub.registry.Usernames())
	d.sess.send(d.others(recent)...)
}

// others drops the session's own name from names
func (d *Dispatcher) others(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name != d.sess.username {
			out = append(out, name)
		}
	}
	return out
}

func (d *Dispatcher) handleBroadcast(body string) {
	d.hub.router.Broadcast(d.sess.username, body)
	d.sess.send(protocol.BroadcastEcho(d.sess.username, body))
}

func (d *Dispatcher) handleMessage(target, body string) {
	_, err := d.hub.router.Direct(d.sess.username, target, body)
	switch {
	case errors.Is(err, ErrSelfTarget):
		d.sess.send(protocol.MessageSelf)
	case errors.Is(err, ErrUnknownUser):
		d.sess.send(protocol.NotAUserMessage(target))
	}
}

func (d *Dispatcher) handleBlock(target string) {
	if !d.hub.creds.Exists(target) {
		d.sess.send(protocol.NotAUserBlock(target))
		return
	}
	if err := d.sess.Block(target); err != nil {
		d.sess.send(protocol.BlockSelf)
		return
	}
	d.sess.send(protocol.Blocked(target))
}

func (d *Dispatcher) handleUnblock(target string) {
	if !d.hub.creds.Exists(target) {
		d.sess.send(protocol.NotAUserUnblock(target))
		return
	}
	if err := d.sess.Unblock(target); err != nil {
		d.sess.send(protocol.NotBlocked(target))
		return
	}
	d.sess.send(protocol.Unblocked(target))
}
