package listener

import (
	"log/slog"

	"gosrc.io/xmpp"
	"gosrc.io/xmpp/stanza"

	webmention "github.com/cvanloo/gowebmention"
)

// XMPPBot reports processed Mentions to a single JID over an already
// connected xmpp.Client, mirroring MatrixBot's shape for the matrix
// transport.
type XMPPBot struct {
	Client        *xmpp.Client
	ReportToJID   string
	FormatMessage func(webmention.Mention) string
}

// NewXMPPBot returns an XMPPBot whose default message formatter reuses
// describeMention, the same parsed-detail summary the mail and matrix
// notifiers render.
func NewXMPPBot(client *xmpp.Client, reportToJID string) XMPPBot {
	return XMPPBot{
		Client:      client,
		ReportToJID: reportToJID,
		FormatMessage: func(mention webmention.Mention) string {
			return "Mention received!\n" + describeMention(mention)
		},
	}
}

// Receive implements the MentionCallback-compatible Notifier shape used by
// Mailer.Receive and MatrixBot.Receive.
func (bot XMPPBot) Receive(mention webmention.Mention) {
	msg := stanza.Message{
		Attrs: stanza.Attrs{To: bot.ReportToJID},
		Body:  bot.FormatMessage(mention),
	}
	if err := bot.Client.Send(msg); err != nil {
		slog.Error("xmpp: failed to send mention notice", "err", err, "to", bot.ReportToJID)
	}
}

// DialXMPPClient builds an xmpp.Client for the server identified by
// jid/password, ready to hand to NewXMPPBot, together with a StreamManager
// for it. Nothing is connected or authenticated until the StreamManager's
// Run is called; the caller owns its lifecycle (call Run in a
// goroutine, same as the teacher's matrix/mail transports are wired up from
// cmd/mentionee's loadConfig).
func DialXMPPClient(jid, password, address string) (*xmpp.Client, *xmpp.StreamManager, error) {
	config := xmpp.Config{
		TransportConfiguration: xmpp.TransportConfiguration{
			Address: address,
		},
		Jid:        jid,
		Credential: xmpp.Password(password),
		Insecure:   false,
	}
	router := xmpp.NewRouter()
	client, err := xmpp.NewClient(&config, router, func(err error) {
		slog.Error("xmpp: stream error", "err", err)
	})
	if err != nil {
		return nil, nil, err
	}
	manager := xmpp.NewStreamManager(client, nil)
	return client, manager, nil
}
