package notify

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"fundwatch/internal/models"
)

// TerminalPusher echoes new_message events to a terminal. It never counts as
// a delivery; the CLI uses it to show what a check run emitted.
type TerminalPusher struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminalPusher creates a TerminalPusher writing to out.
func NewTerminalPusher(out io.Writer) *TerminalPusher {
	return &TerminalPusher{out: out}
}

// SendToUser implements Pusher.
func (t *TerminalPusher) SendToUser(userID string, event any) int {
	t.print(userID, event)
	return 0
}

// Broadcast implements Pusher.
func (t *TerminalPusher) Broadcast(event any) int {
	t.print("", event)
	return 0
}

func (t *TerminalPusher) print(userID string, event any) {
	var n *models.Notification
	switch e := event.(type) {
	case models.MessageEvent:
		n = e.Message
	case *models.MessageEvent:
		n = e.Message
	}
	if n == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, FormatNotification(n, userID))
}

// FormatNotification renders a notification on one line. Rises are red and
// falls green, following the mainland market colour convention.
func FormatNotification(n *models.Notification, userID string) string {
	var sb strings.Builder

	sb.WriteString(n.CreatedAt.Local().Format("15:04:05"))
	sb.WriteString(" ")

	switch n.Kind {
	case models.KindRise:
		sb.WriteString(color.RedString("▲ RISE"))
	case models.KindFall:
		sb.WriteString(color.GreenString("▼ FALL"))
	default:
		sb.WriteString(color.CyanString("● %s", strings.ToUpper(string(n.Kind))))
	}

	if userID == "" {
		sb.WriteString(" | all users")
	} else {
		sb.WriteString(" | " + userID)
	}

	sb.WriteString(" | " + color.New(color.Bold).Sprint(n.Title))
	sb.WriteString(" | " + n.Body)
	return sb.String()
}
