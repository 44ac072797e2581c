package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"fundwatch/internal/models"
	"fundwatch/internal/notify"
	"fundwatch/internal/store"
)

func newSendMessageCmd(app *App) *cobra.Command {
	var (
		title   string
		content string
		kind    string
		userID  string
	)

	cmd := &cobra.Command{
		Use:   "send-message",
		Short: "Send a message to one user or to everyone",
		Long: `Store a message and push it to connected clients. Without --user the
message is a broadcast. Delivery to open streams needs the Redis relay, since
the connections live in the serve process; without it the message is only
stored and shows up the next time the client lists its messages.`,
		Example: `  fundwatch send-message --title "Maintenance" --content "Back at 20:00"
  fundwatch send-message --user 8f14e45f --title "Hi" --content "Welcome aboard"`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			output := NewOutput(cmd)

			db, err := app.openStore()
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, db.Close()) }()

			relay, closeRelay, err := app.newRelay(cmd)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, closeRelay()) }()

			var pusher notify.Pusher
			if relay != nil {
				pusher = relay
			}
			n, err := notify.NewEmitter(db, pusher, app.Logger).Emit(cmd.Context(), notify.Message{
				RecipientID: userID,
				Title:       title,
				Body:        content,
				Kind:        models.NotificationKind(kind),
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(n)
			}
			target := "all users"
			if userID != "" {
				target = userID
			}
			output.Success("✓ Message %s sent to %s", n.ID, target)
			if relay == nil {
				output.Dim("Redis relay disabled: stored only, open streams were not notified")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "message title (required)")
	cmd.Flags().StringVarP(&content, "content", "c", "", "message body (required)")
	cmd.Flags().StringVar(&kind, "type", string(models.KindSystem), "message type")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "recipient user id (default: broadcast)")
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagRequired("content")
	return cmd
}

func newMessagesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Inspect stored messages",
	}

	var (
		userID     string
		unreadOnly bool
		limit      int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's messages, including broadcasts",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			output := NewOutput(cmd)

			db, err := app.openStore()
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, db.Close()) }()

			messages, err := db.ListNotifications(cmd.Context(), store.NotificationFilter{
				RecipientID: userID,
				UnreadOnly:  unreadOnly,
				Limit:       limit,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(messages)
			}
			if len(messages) == 0 {
				output.Dim("No messages")
				return nil
			}

			table := NewTable(output, "ID", "TIME", "TYPE", "TO", "TITLE", "")
			for _, m := range messages {
				to := "all"
				if !m.IsBroadcast() {
					to = *m.RecipientID
				}
				unread := ""
				if !m.Read {
					unread = "●"
				}
				table.AddRow(shortID(m.ID), FormatTime(m.CreatedAt), strings.ToUpper(string(m.Kind)), to,
					TruncateString(m.Title, 40), unread)
			}
			table.Render()
			output.Dim("%d message(s)", len(messages))
			return nil
		},
	}
	list.Flags().StringVarP(&userID, "user", "u", "", "user id")
	list.Flags().BoolVar(&unreadOnly, "unread", false, "only unread messages")
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of messages")
	list.MarkFlagRequired("user")

	cmd.AddCommand(list)
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
