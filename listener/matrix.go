package listener

import (
	"context"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	webmention "github.com/cvanloo/gowebmention"
)

// MatrixBot reports processed Mentions to a single Matrix room, mirroring
// Mailer's Sender-backed shape for the matrix transport.
type MatrixBot struct {
	Client        *mautrix.Client
	ReportToRoom  id.RoomID
	FormatMessage func(webmention.Mention) string
}

// NewMatrixBot returns a MatrixBot whose default FormatMessage reuses
// describeMention, the same parsed-detail summary DefaultBody renders for
// the mail notifier, so a room gets "type"/"from"/"title"/"excerpt" lines
// whenever the parser found them instead of a bare source/target/status
// triple.
func NewMatrixBot(client *mautrix.Client, reportToRoom id.RoomID) MatrixBot {
	return MatrixBot{
		Client:       client,
		ReportToRoom: reportToRoom,
		FormatMessage: func(mention webmention.Mention) string {
			return "Mention received!\n" + describeMention(mention)
		},
	}
}

// Receive posts FormatMessage's rendering of mention to ReportToRoom. It
// blocks its caller for the SendText round-trip; used as a MentionCallback,
// that caller is the goroutine processing the mention, so a slow homeserver
// delays that processing.
func (bot MatrixBot) Receive(mention webmention.Mention) {
	resp, err := bot.Client.SendText(context.Background(), bot.ReportToRoom, bot.FormatMessage(mention))
	if err != nil {
		slog.Error("matrix: failed to send mention notice", "err", err, "room", bot.ReportToRoom)
		return
	}
	slog.Info("matrix: sent mention notice", "room", bot.ReportToRoom, "event_id", resp.EventID)
}
