package chatbot

import (
	"fmt"
	"io"

	"NutriChat/internal/session"
)

// renderer prints each message of a session once, in log order.
type renderer struct {
	out       io.Writer
	sessionID string
	version   uint64
	printed   int
	pending   bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

// Render prints what changed since the last rendered snapshot. Stale
// snapshots are ignored.
func (r *renderer) Render(snap session.Snapshot) {
	if snap.SessionID != r.sessionID {
		r.sessionID = snap.SessionID
		r.version = 0
		r.printed = 0
		r.pending = false
	}
	if snap.Version <= r.version {
		return
	}
	r.version = snap.Version

	for _, msg := range snap.Messages[min(r.printed, len(snap.Messages)):] {
		r.printMessage(msg)
	}
	r.printed = len(snap.Messages)

	if snap.Pending && !r.pending {
		fmt.Fprintln(r.out, "NutriAI is thinking...")
	}
	r.pending = snap.Pending
}

// RenderAll reprints the whole conversation.
func (r *renderer) RenderAll(snap session.Snapshot) {
	fmt.Fprintln(r.out, "\n--- conversation ---")
	for _, msg := range snap.Messages {
		r.printMessage(msg)
	}
	fmt.Fprintln(r.out, "--------------------")
}

func (r *renderer) printMessage(msg session.Message) {
	switch msg.Role {
	case session.RoleUser:
		fmt.Fprintf(r.out, "You: %s\n", msg.Content)
	default:
		fmt.Fprintf(r.out, "NutriAI: %s\n\n", msg.Content)
	}
}
