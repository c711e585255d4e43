// Package pipeline is the root of GateClaw's message intake: it consumes
// envelopes from the gateway and runs them through dedup, rate limiting,
// moderation, and leveling before dispatching to the downstream responder.
// Each envelope is handled in isolation; a panic or error in one never
// aborts processing of the next.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/gateclaw/pkg/gateclaw/channels"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/leveling"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/moderation"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/ratelimit"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/responder"
)

// Config holds the pipeline configuration.
type Config struct {
	// Owner is the bot owner's gateway identity; it bypasses every
	// counter and moderation check.
	Owner string `yaml:"owner"`

	// Trigger is the keyword that addresses the bot in group chats.
	// Direct messages always reach the responder.
	Trigger string `yaml:"trigger"`

	// Dedup configures the duplicate/staleness filter.
	Dedup DedupConfig `yaml:"dedup"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Trigger: "@gateclaw",
		Dedup:   DefaultDedupConfig(),
	}
}

// Pipeline wires the engines together over one gateway channel.
type Pipeline struct {
	cfg       Config
	gateway   channels.GroupAdminChannel
	dedup     *Dedup
	limiter   *ratelimit.Limiter
	moderator *moderation.Moderator
	levels    *leveling.Engine
	resp      responder.Responder
	logger    *slog.Logger
}

// New creates a Pipeline over the given collaborators.
func New(
	cfg Config,
	gateway channels.GroupAdminChannel,
	dedup *Dedup,
	limiter *ratelimit.Limiter,
	moderator *moderation.Moderator,
	levels *leveling.Engine,
	resp responder.Responder,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		gateway:   gateway,
		dedup:     dedup,
		limiter:   limiter,
		moderator: moderator,
		levels:    levels,
		resp:      resp,
		logger:    logger.With("component", "pipeline"),
	}
}

// Dedup exposes the filter for the periodic purge.
func (p *Pipeline) Dedup() *Dedup { return p.dedup }

// Run consumes the gateway's envelope stream until the context ends or
// the stream closes.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info("pipeline started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopped")
			return
		case env, ok := <-p.gateway.Receive():
			if !ok {
				p.logger.Info("gateway stream closed, pipeline stopped")
				return
			}
			p.handle(ctx, env)
		}
	}
}

// handle processes one envelope. Panics are contained here so a bad
// message cannot take the intake loop down.
func (p *Pipeline) handle(ctx context.Context, env *channels.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic handling envelope",
				"id", env.ID, "chat", env.ChatID, "panic", r)
		}
	}()

	if !p.dedup.Admit(env) {
		return
	}

	isOwner := p.isOwner(env.SenderID)

	// Rate limiting and blacklist.
	res := p.limiter.Check(env.SenderID, isOwner)
	if !res.Allowed {
		p.deny(ctx, env, res)
		return
	}

	// Moderation, decided here and enforced via the gateway.
	if !isOwner && env.IsGroup {
		if p.moderator.IsUserMuted(env.ChatID, env.SenderID) {
			return
		}
		if p.moderator.IsAntiLinkActive(env.ChatID) && moderation.ContainsLink(env.Text) {
			p.enforceAntiLink(ctx, env)
			return
		}
		if p.moderator.CheckSpam(env.SenderID) {
			p.notice(ctx, env.ChatID, fmt.Sprintf("@%s slow down — you are sending messages too fast.", env.SenderName))
			return
		}
	}

	// Engagement: XP per admitted group message.
	if env.IsGroup {
		p.award(ctx, env)
	}

	// Dispatch to the downstream responder.
	if p.shouldRespond(env) {
		p.respond(ctx, env)
	}
}

// isOwner compares gateway identities, tolerating the device suffix
// WhatsApp appends to JIDs (user:device@server).
func (p *Pipeline) isOwner(senderID string) bool {
	if p.cfg.Owner == "" {
		return false
	}
	return senderID == p.cfg.Owner ||
		strings.SplitN(senderID, "@", 2)[0] == strings.SplitN(p.cfg.Owner, "@", 2)[0]
}

// deny surfaces a policy denial to the user. Denials are control flow,
// not errors.
func (p *Pipeline) deny(ctx context.Context, env *channels.Envelope, res ratelimit.Result) {
	var text string
	switch res.Reason {
	case ratelimit.ReasonBlacklisted:
		// Blacklisted users are ignored silently; answering them just
		// feeds the abuse.
		p.logger.Debug("dropping blacklisted sender", "user", env.SenderID)
		return
	case ratelimit.ReasonRateLimited:
		text = fmt.Sprintf("Rate limit exceeded. Try again in %d minutes.", res.WaitMinutes)
	default:
		return
	}
	p.notice(ctx, env.ChatID, text)
}

// enforceAntiLink posts a notice and removes the sender from the group.
// Both are best-effort remote calls.
func (p *Pipeline) enforceAntiLink(ctx context.Context, env *channels.Envelope) {
	p.logger.Info("anti-link match",
		"group", env.ChatID, "user", env.SenderID)
	p.notice(ctx, env.ChatID, "Links are not allowed in this group.")
	if err := p.gateway.RemoveParticipant(ctx, env.ChatID, env.SenderID); err != nil {
		p.logger.Warn("removing participant failed",
			"group", env.ChatID, "user", env.SenderID, "error", err)
	}
}

// award grants message XP and walks the promotion path when the sender
// reaches the level cap.
func (p *Pipeline) award(ctx context.Context, env *channels.Envelope) {
	rec, leveledUp := p.levels.AwardXP(env.ChatID, env.SenderID, p.levels.XPPerMessage())
	if !leveledUp {
		return
	}

	p.notice(ctx, env.ChatID,
		fmt.Sprintf("🎉 %s reached level %d!", displayName(env), rec.Level))

	if rec.Level >= p.levels.MaxLevel() {
		res := p.levels.RegisterMaxLevel(ctx, env.ChatID, env.SenderID, displayName(env))
		if res.Promoted {
			p.notice(ctx, env.ChatID,
				fmt.Sprintf("👑 %s hit max level at rank %d and was promoted!", displayName(env), res.Position))
		} else if res.Success {
			p.notice(ctx, env.ChatID,
				fmt.Sprintf("🏁 %s hit max level — %s.", displayName(env), res.Message))
		}
	}
}

// shouldRespond gates responder dispatch: DMs always, groups only when
// the trigger keyword is present in a text message.
func (p *Pipeline) shouldRespond(env *channels.Envelope) bool {
	if env.Kind != channels.ContentText {
		return false
	}
	if !env.IsGroup {
		return true
	}
	return p.cfg.Trigger != "" &&
		strings.Contains(strings.ToLower(env.Text), strings.ToLower(p.cfg.Trigger))
}

// respond dispatches to the downstream responder and relays the reply.
func (p *Pipeline) respond(ctx context.Context, env *channels.Envelope) {
	text := env.Text
	if env.IsGroup {
		text = strings.TrimSpace(strings.ReplaceAll(text, p.cfg.Trigger, ""))
	}

	reply, err := p.resp.Reply(ctx, responder.Request{
		Sender:     env.SenderID,
		SenderName: env.SenderName,
		ChatID:     env.ChatID,
		IsGroup:    env.IsGroup,
		Text:       text,
		QuotedText: env.QuotedText,
	})
	if err != nil {
		p.logger.Warn("responder failed", "chat", env.ChatID, "error", err)
		reply = "Sorry, I could not process that right now."
	}
	if reply == "" {
		return
	}

	if err := p.gateway.Send(ctx, env.ChatID, &channels.OutgoingMessage{
		Text:    reply,
		ReplyTo: env.ID,
	}); err != nil {
		p.logger.Warn("sending reply failed", "chat", env.ChatID, "error", err)
	}
}

// notice posts a plain message to a chat, best-effort.
func (p *Pipeline) notice(ctx context.Context, chatID, text string) {
	if err := p.gateway.Send(ctx, chatID, &channels.OutgoingMessage{Text: text}); err != nil {
		p.logger.Warn("sending notice failed", "chat", chatID, "error", err)
	}
}

// displayName prefers the push name, falling back to the raw identity.
func displayName(env *channels.Envelope) string {
	if env.SenderName != "" {
		return env.SenderName
	}
	return env.SenderID
}
