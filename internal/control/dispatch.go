package control

import (
	"context"
	"fmt"
	"time"

	"github.com/zk1tty/wf-backend/internal/browsersession"
)

// commandTimeout bounds a single control command (spec.md §4.7): a command
// that does not complete in time reports execution_failed but the channel
// itself stays open for the next one.
const commandTimeout = 2 * time.Second

var knownTypes = map[string]bool{
	msgMouseMove:     true,
	msgMouseDown:     true,
	msgMouseUp:       true,
	msgMouseClick:    true,
	msgMouseDblClick: true,
	msgWheel:         true,
	msgKeyDown:       true,
	msgKeyUp:         true,
	msgKeyPress:      true,
}

func isKnownType(t string) bool { return knownTypes[t] }

// requiresBoundsCheck reports whether msg carries x/y coordinates that must
// satisfy the 0..10000 bound.
func requiresBoundsCheck(msg message) bool {
	switch msg.Type {
	case msgMouseMove, msgMouseDown, msgMouseClick, msgMouseDblClick, msgWheel:
		return true
	default:
		return false
	}
}

// dispatch executes one control message against the session's Mouse/
// Keyboard, bounded by commandTimeout.
func dispatch(ctx context.Context, session browsersession.BrowserSession, msg message) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	mouse := session.Mouse()
	keyboard := session.Keyboard()

	switch msg.Type {
	case msgMouseMove:
		return mouse.Move(ctx, msg.X, msg.Y)
	case msgMouseDown:
		if err := mouse.Move(ctx, msg.X, msg.Y); err != nil {
			return err
		}
		return mouse.Down(ctx, browsersession.MouseButton(msg.Button))
	case msgMouseUp:
		return mouse.Up(ctx, browsersession.MouseButton(msg.Button))
	case msgMouseClick:
		if msg.ClickCount >= 2 {
			return mouse.DblClick(ctx, msg.X, msg.Y)
		}
		return mouse.Click(ctx, msg.X, msg.Y, browsersession.MouseButton(msg.Button))
	case msgMouseDblClick:
		return mouse.DblClick(ctx, msg.X, msg.Y)
	case msgWheel:
		return mouse.Wheel(ctx, msg.X, msg.Y, msg.DeltaX, msg.DeltaY)
	case msgKeyDown:
		if len([]rune(msg.Key)) == 1 {
			return keyboard.Press(ctx, msg.Key)
		}
		return keyboard.Down(ctx, msg.Key, msg.Code)
	case msgKeyUp:
		return keyboard.Up(ctx, msg.Key)
	case msgKeyPress:
		return keyboard.Press(ctx, msg.Key)
	default:
		return fmt.Errorf("unknown control message type %q", msg.Type)
	}
}
