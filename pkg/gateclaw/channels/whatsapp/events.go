// Package whatsapp – events.go processes incoming whatsmeow events and
// converts message events into unified GateClaw envelopes.
package whatsapp

import (
	"time"

	"github.com/jholhewres/gateclaw/pkg/gateclaw/channels"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// handleEvent is the main whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.Connected:
		w.handleConnected(evt)

	case *events.Disconnected:
		w.handleDisconnected(evt)

	case *events.StreamReplaced:
		w.handleStreamReplaced(evt)

	case *events.LoggedOut:
		w.handleLoggedOut(evt)

	case *events.TemporaryBan:
		w.handleTemporaryBan(evt)

	case *events.ConnectFailure:
		w.handleConnectFailure(evt)

	case *events.PairSuccess:
		w.handlePairSuccess(evt)

	case *events.HistorySync:
		w.logger.Debug("history sync received")

	case *events.QRScannedWithoutMultidevice:
		w.logger.Warn("QR scanned but multidevice not enabled")
	}
}

// handleConnected handles a successful connection. The attempt counter
// resets so the next drop starts the backoff ladder from the base delay.
func (w *WhatsApp) handleConnected(_ *events.Connected) {
	w.setState(StateConnected)
	w.connected.Store(true)
	w.reconnectAttempts.Store(0)

	now := time.Now()
	w.lastConnectedAt.Store(now)

	var doc sessionDoc
	if err := w.docs.Load(sessionDocName, &doc); err != nil {
		w.logger.Warn("loading session metadata failed", "error", err)
	}
	doc.LastConnectedAt = now
	if err := w.docs.Save(sessionDocName, doc); err != nil {
		w.logger.Warn("saving session metadata failed", "error", err)
	}

	jid := ""
	platform := ""
	if w.client.Store.ID != nil {
		jid = w.client.Store.ID.String()
		platform = w.client.Store.Platform
	}
	w.logger.Info("connected",
		"jid", jid,
		"platform", platform,
		"version", w.version)
}

// handleDisconnected handles a connection drop.
func (w *WhatsApp) handleDisconnected(_ *events.Disconnected) {
	wasConnected := w.connected.Load()
	w.connected.Store(false)

	// Operator shutdown or already-terminal sessions stay put.
	if w.GetState() == StateDisconnected || w.terminal.Load() {
		return
	}

	w.setState(StateClosed)
	w.logger.Warn("disconnected", "was_connected", wasConnected)
	w.scheduleReconnect()
}

// handleStreamReplaced handles another device taking over the session.
func (w *WhatsApp) handleStreamReplaced(_ *events.StreamReplaced) {
	w.connected.Store(false)
	w.setState(StateClosed)
	w.logger.Error("stream replaced, another client connected to this account")
	w.scheduleReconnect()
}

// handleLoggedOut handles session invalidation by the server. The
// credentials are no longer usable and are wiped; the next Connect runs
// a fresh pairing handshake.
func (w *WhatsApp) handleLoggedOut(evt *events.LoggedOut) {
	w.connected.Store(false)
	w.setState(StateDisconnected)

	reason := "unknown"
	if evt.Reason != 0 {
		reason = evt.Reason.String()
	}
	w.logger.Error("logged out by server", "reason", reason, "on_connect", evt.OnConnect)

	if err := w.wipeCredentials(w.ctx); err != nil {
		w.logger.Warn("wiping credentials failed", "error", err)
	}
}

// handleTemporaryBan handles account suspension. This is terminal: no
// reconnection is scheduled and the session stays Closed.
func (w *WhatsApp) handleTemporaryBan(evt *events.TemporaryBan) {
	w.connected.Store(false)
	w.terminal.Store(true)
	w.setState(StateClosed)

	w.logger.Error("account temporarily banned",
		"code", evt.Code,
		"expire", evt.Expire)
}

// handleConnectFailure handles connection rejection by the server.
// Authentication failures wipe the credentials; permanent failures are
// terminal, everything else re-enters the backoff ladder.
func (w *WhatsApp) handleConnectFailure(evt *events.ConnectFailure) {
	w.connected.Store(false)

	reason := "unknown"
	if evt.Reason != 0 {
		reason = evt.Reason.String()
	}
	permanent := evt.PermanentDisconnectDescription()

	w.logger.Error("connect failure",
		"reason", reason,
		"message", evt.Message,
		"permanent", permanent)

	if evt.Reason.IsLoggedOut() {
		w.setState(StateDisconnected)
		if err := w.wipeCredentials(w.ctx); err != nil {
			w.logger.Warn("wiping credentials failed", "error", err)
		}
		return
	}

	w.setState(StateClosed)
	if permanent != "" {
		w.terminal.Store(true)
		return
	}
	w.scheduleReconnect()
}

// handlePairSuccess records the pairing time so credential staleness can
// be enforced across restarts.
func (w *WhatsApp) handlePairSuccess(evt *events.PairSuccess) {
	w.logger.Info("device paired",
		"jid", evt.ID,
		"platform", evt.Platform)

	var doc sessionDoc
	if err := w.docs.Load(sessionDocName, &doc); err != nil {
		w.logger.Warn("loading session metadata failed", "error", err)
	}
	doc.PairedAt = time.Now()
	if err := w.docs.Save(sessionDocName, doc); err != nil {
		w.logger.Warn("saving session metadata failed", "error", err)
	}
}

// handleMessageEvt converts an incoming message event into an envelope.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	if evt.Info.IsFromMe {
		return
	}
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	env := &channels.Envelope{
		ID:         string(evt.Info.ID),
		ChatID:     evt.Info.Chat.String(),
		SenderID:   evt.Info.Sender.String(),
		SenderName: evt.Info.PushName,
		IsGroup:    evt.Info.IsGroup,
		Timestamp:  evt.Info.Timestamp,
	}

	extractContent(evt.Message, env)
	extractQuoted(evt.Message, env)

	w.emit(env)
}

// extractContent fills the envelope's kind and text from the message body.
func extractContent(waMsg *waE2E.Message, env *channels.Envelope) {
	if waMsg == nil {
		env.Kind = channels.ContentOther
		return
	}

	if waMsg.Conversation != nil {
		env.Kind = channels.ContentText
		env.Text = waMsg.GetConversation()
		return
	}
	if ext := waMsg.ExtendedTextMessage; ext != nil {
		env.Kind = channels.ContentText
		env.Text = ext.GetText()
		return
	}
	if img := waMsg.ImageMessage; img != nil {
		env.Kind = channels.ContentImage
		env.Text = img.GetCaption()
		if env.Text == "" {
			env.Text = "[image]"
		}
		return
	}
	if audio := waMsg.AudioMessage; audio != nil {
		env.Kind = channels.ContentAudio
		env.Text = "[audio]"
		if audio.GetPTT() {
			env.Text = "[voice note]"
		}
		return
	}

	env.Kind = channels.ContentOther
}

// extractQuoted fills reply context from any message type that carries it.
func extractQuoted(waMsg *waE2E.Message, env *channels.Envelope) {
	if waMsg == nil {
		return
	}

	var ctxInfo *waE2E.ContextInfo
	switch {
	case waMsg.ExtendedTextMessage != nil:
		ctxInfo = waMsg.ExtendedTextMessage.GetContextInfo()
	case waMsg.ImageMessage != nil:
		ctxInfo = waMsg.ImageMessage.GetContextInfo()
	case waMsg.AudioMessage != nil:
		ctxInfo = waMsg.AudioMessage.GetContextInfo()
	}
	if ctxInfo == nil {
		return
	}

	if ctxInfo.StanzaID != nil {
		env.ReplyTo = ctxInfo.GetStanzaID()
	}
	if quoted := ctxInfo.QuotedMessage; quoted != nil {
		env.QuotedText = quotedText(quoted)
	}
}

func quotedText(quoted *waE2E.Message) string {
	if quoted.Conversation != nil {
		return quoted.GetConversation()
	}
	if ext := quoted.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}
	if img := quoted.ImageMessage; img != nil {
		return "[image] " + img.GetCaption()
	}
	if audio := quoted.AudioMessage; audio != nil {
		if audio.GetPTT() {
			return "[voice note]"
		}
		return "[audio]"
	}
	return "[message]"
}

// buildTextMessage wraps an outgoing text, optionally as a reply.
func buildTextMessage(text, replyTo string) *waE2E.Message {
	if replyTo == "" {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID: proto.String(replyTo),
			},
		},
	}
}
