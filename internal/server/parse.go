package server

import (
	"fmt"
	"time"

	"github.com/lotas/titlesentinel/internal/types"
)

// ParseEvent converts an agent message into a PageEvent.
func ParseEvent(msg IncomingMsg) (types.PageEvent, error) {
	ev := types.PageEvent{Type: types.EventType(msg.Type), At: time.Now()}

	switch ev.Type {
	case types.EventHello:
		ev.URL = msg.URL
		ev.Title = msg.Title
		ev.HasTitle = msg.HasTitle
	case types.EventTitle:
		ev.Title = msg.Title
		ev.HasTitle = msg.HasTitle
	case types.EventHistory:
		op := types.HistoryOp(msg.Op)
		switch op {
		case types.HistoryPush, types.HistoryReplace, types.HistoryPop:
		default:
			return ev, fmt.Errorf("parse history: unknown op %q", msg.Op)
		}
		ev.Op = op
		ev.URL = msg.URL
	case types.EventMutations:
		ev.Records = msg.Records
	case types.EventTitleSource:
		ev.Text = msg.Text
		ev.Present = msg.Present
	case types.EventActivate:
		if msg.Index < 1 {
			return ev, fmt.Errorf("parse activate: index %d out of range", msg.Index)
		}
		ev.Index = msg.Index
	default:
		return ev, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return ev, nil
}
