// Package whatsapp implements the GateClaw gateway channel on top of
// whatsmeow, a native Go WhatsApp Web API library. It owns the session
// lifecycle: credential validation and wiping, QR pairing with a challenge
// timeout, reconnection with capped exponential backoff, and terminal
// failure handling (account bans are surfaced, never retried).
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jholhewres/gateclaw/pkg/gateclaw/channels"
	gstore "github.com/jholhewres/gateclaw/pkg/gateclaw/store"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the session store.
)

// Config holds the WhatsApp gateway configuration.
type Config struct {
	// DatabasePath is the SQLite file holding the whatsmeow session.
	DatabasePath string `yaml:"database_path"`

	// PairingTimeout is how long to wait for the first QR challenge
	// before tearing the attempt down and restarting it once.
	PairingTimeout time.Duration `yaml:"pairing_timeout"`

	// CredentialMaxAge invalidates stored credentials older than this;
	// stale credentials are wiped and a fresh pairing is forced.
	CredentialMaxAge time.Duration `yaml:"credential_max_age"`

	// ReconnectBase is the backoff base after a connection drop.
	ReconnectBase time.Duration `yaml:"reconnect_base"`

	// ReconnectCap bounds the backoff delay.
	ReconnectCap time.Duration `yaml:"reconnect_cap"`
}

// DefaultConfig returns a Config with the standard lifecycle timings.
func DefaultConfig() Config {
	return Config{
		DatabasePath:     "./data/whatsapp.db",
		PairingTimeout:   10 * time.Second,
		CredentialMaxAge: 24 * time.Hour,
		ReconnectBase:    5 * time.Second,
		ReconnectCap:     30 * time.Second,
	}
}

// ConnectionState is the lifecycle state of the gateway session.
type ConnectionState string

const (
	StateDisconnected    ConnectionState = "disconnected"
	StateConnecting      ConnectionState = "connecting"
	StateAwaitingPairing ConnectionState = "awaiting_pairing"
	StateConnected       ConnectionState = "connected"
	StateClosed          ConnectionState = "closed"
)

// sessionDoc is the persisted session metadata, stored alongside the
// whatsmeow credential blob so staleness survives restarts.
type sessionDoc struct {
	PairedAt        time.Time `json:"paired_at"`
	LastConnectedAt time.Time `json:"last_connected_at"`
}

const sessionDocName = "session.json"

// WhatsApp implements channels.GroupAdminChannel over whatsmeow.
type WhatsApp struct {
	cfg     Config
	logger  *slog.Logger
	version string
	docs    *gstore.Store

	container *sqlstore.Container
	client    *whatsmeow.Client

	envelopes chan *channels.Envelope

	state     atomic.Value // ConnectionState
	connected atomic.Bool

	// reconnectAttempts counts drops since the last successful connect.
	reconnectAttempts atomic.Int32

	// reconnectPending guarantees a single outstanding reconnect timer.
	reconnectPending atomic.Bool

	// terminal marks a fatal gateway failure (e.g. account suspended);
	// no reconnection is ever scheduled past this point.
	terminal atomic.Bool

	lastConnectedAt atomic.Value // time.Time

	envelopesClosed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the gateway channel. version appears in the status line
// logged on every successful connect.
func New(cfg Config, docs *gstore.Store, version string, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PairingTimeout <= 0 {
		cfg.PairingTimeout = 10 * time.Second
	}
	if cfg.CredentialMaxAge <= 0 {
		cfg.CredentialMaxAge = 24 * time.Hour
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 5 * time.Second
	}
	if cfg.ReconnectCap <= 0 {
		cfg.ReconnectCap = 30 * time.Second
	}

	w := &WhatsApp{
		cfg:       cfg,
		logger:    logger.With("component", "whatsapp"),
		version:   version,
		docs:      docs,
		envelopes: make(chan *channels.Envelope, 256),
	}
	w.setState(StateDisconnected)
	return w
}

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// GetState returns the current lifecycle state.
func (w *WhatsApp) GetState() ConnectionState {
	if v := w.state.Load(); v != nil {
		return v.(ConnectionState)
	}
	return StateDisconnected
}

func (w *WhatsApp) setState(s ConnectionState) {
	prev := w.GetState()
	w.state.Store(s)
	if prev != s {
		w.logger.Info("session state changed", "from", prev, "to", s)
	}
}

// IsConnected reports whether the session is established.
func (w *WhatsApp) IsConnected() bool { return w.connected.Load() }

// SelfID returns the bot's own JID, or "" before pairing.
func (w *WhatsApp) SelfID() string {
	if w.client != nil && w.client.Store.ID != nil {
		return w.client.Store.ID.String()
	}
	return ""
}

// LastConnectedAt returns the time of the last successful connect, used
// by the dedup filter's staleness check.
func (w *WhatsApp) LastConnectedAt() time.Time {
	if t, ok := w.lastConnectedAt.Load().(time.Time); ok {
		return t
	}
	return time.Time{}
}

// Receive returns the incoming envelope stream.
func (w *WhatsApp) Receive() <-chan *channels.Envelope { return w.envelopes }

// Connect establishes or re-establishes the session. Calling Connect
// while already connected is a no-op.
func (w *WhatsApp) Connect(ctx context.Context) error {
	if w.connected.Load() {
		return nil
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.setState(StateConnecting)

	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.cfg.DatabasePath),
		waLog.Noop)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("creating session store: %w", err)
	}
	w.container = container

	device, fresh, err := w.loadDevice(w.ctx)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("loading device: %w", err)
	}

	store.SetOSInfo("GateClaw", [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	// Reconnection is scheduled by the lifecycle manager so the backoff
	// and single-timer invariants hold; whatsmeow's own retry stays off.
	w.client.EnableAutoReconnect = false

	if fresh || w.client.Store.ID == nil {
		return w.pair(w.ctx)
	}

	if err := w.client.Connect(); err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("connecting: %w", err)
	}
	return nil
}

// loadDevice fetches the stored device and validates its credentials.
// Structurally invalid or stale credentials are wiped, forcing a fresh
// pairing handshake. fresh reports whether pairing is required.
func (w *WhatsApp) loadDevice(ctx context.Context) (*store.Device, bool, error) {
	devices, err := w.container.GetAllDevices(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(devices) == 0 {
		return w.container.NewDevice(), true, nil
	}

	device := devices[0]

	var doc sessionDoc
	if err := w.docs.Load(sessionDocName, &doc); err != nil {
		w.logger.Warn("loading session metadata failed", "error", err)
	}

	switch {
	case !credentialsValid(device):
		w.logger.Warn("stored credentials failed validation, wiping session")
	case !doc.PairedAt.IsZero() && time.Since(doc.PairedAt) > w.cfg.CredentialMaxAge:
		w.logger.Warn("stored credentials are stale, wiping session",
			"paired_at", doc.PairedAt, "max_age", w.cfg.CredentialMaxAge)
	default:
		return device, false, nil
	}

	if err := w.wipeCredentials(ctx); err != nil {
		return nil, false, err
	}
	return w.container.NewDevice(), true, nil
}

// credentialsValid checks the structural integrity of the credential blob.
func credentialsValid(device *store.Device) bool {
	return device != nil && device.ID != nil && !device.ID.IsEmpty() && device.NoiseKey != nil
}

// wipeCredentials removes all persisted session data. The next Connect
// runs a fresh pairing handshake.
func (w *WhatsApp) wipeCredentials(ctx context.Context) error {
	devices, err := w.container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	for _, d := range devices {
		if err := w.container.DeleteDevice(ctx, d); err != nil {
			w.logger.Warn("deleting device failed", "error", err)
		}
	}
	if err := w.docs.Save(sessionDocName, sessionDoc{}); err != nil {
		w.logger.Warn("resetting session metadata failed", "error", err)
	}
	w.logger.Info("credentials wiped, fresh pairing required")
	return nil
}

// pair runs the QR pairing handshake. If no challenge arrives within
// PairingTimeout while the session is still not connected, the attempt
// is torn down and restarted exactly once.
func (w *WhatsApp) pair(ctx context.Context) error {
	if err := w.pairOnce(ctx); err != nil {
		w.logger.Warn("pairing attempt failed, restarting once", "error", err)
		w.client.Disconnect()
		return w.pairOnce(ctx)
	}
	return nil
}

// pairOnce starts one pairing attempt: subscribe to the QR channel,
// connect, and wait for the first challenge within the timeout. The rest
// of the QR flow (scans, refreshes, success) continues in background.
func (w *WhatsApp) pairOnce(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for pairing: %w", err)
	}

	w.setState(StateAwaitingPairing)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case evt, ok := <-qrChan:
		if !ok {
			return fmt.Errorf("QR channel closed before challenge")
		}
		if evt.Event != "code" {
			if evt.Error != nil {
				return fmt.Errorf("pairing error: %w", evt.Error)
			}
			return fmt.Errorf("unexpected pairing event %q before challenge", evt.Event)
		}
		w.logger.Info("pairing challenge ready, scan the QR code",
			"code_len", len(evt.Code))
		fmt.Println(evt.Code)
		go w.followPairing(ctx, qrChan)
		return nil
	case <-time.After(w.cfg.PairingTimeout):
		return fmt.Errorf("no pairing challenge within %s", w.cfg.PairingTimeout)
	}
}

// followPairing drains the remaining QR events after the first challenge.
func (w *WhatsApp) followPairing(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-qrChan:
			if !ok {
				return
			}
			switch evt.Event {
			case "code":
				w.logger.Info("pairing challenge refreshed")
				fmt.Println(evt.Code)
			case "success":
				// The Connected and PairSuccess events carry the rest.
				return
			case "timeout":
				w.logger.Warn("pairing challenge expired, run connect again")
				w.setState(StateDisconnected)
				return
			default:
				if evt.Error != nil {
					w.logger.Error("pairing failed", "error", evt.Error)
					w.setState(StateDisconnected)
					return
				}
			}
		}
	}
}

// backoffDelay computes the reconnect delay for the given attempt count:
// base doubled per attempt, capped.
func (w *WhatsApp) backoffDelay(attempts int32) time.Duration {
	if attempts > 16 {
		return w.cfg.ReconnectCap
	}
	delay := w.cfg.ReconnectBase << attempts
	if delay <= 0 || delay > w.cfg.ReconnectCap {
		return w.cfg.ReconnectCap
	}
	return delay
}

// scheduleReconnect arms the reconnect timer. At most one timer is
// outstanding; further drops while it is pending are ignored.
func (w *WhatsApp) scheduleReconnect() {
	if w.terminal.Load() {
		return
	}
	if w.ctx == nil || w.ctx.Err() != nil {
		return
	}
	if !w.reconnectPending.CompareAndSwap(false, true) {
		return
	}

	attempts := w.reconnectAttempts.Load()
	delay := w.backoffDelay(attempts)
	w.reconnectAttempts.Add(1)

	w.logger.Info("reconnect scheduled", "attempt", attempts+1, "delay", delay)

	time.AfterFunc(delay, func() {
		w.reconnectPending.Store(false)
		if w.ctx.Err() != nil || w.terminal.Load() || w.connected.Load() {
			return
		}
		w.setState(StateConnecting)
		if w.client.IsConnected() {
			w.client.Disconnect()
		}
		if err := w.client.Connect(); err != nil {
			w.logger.Warn("reconnect attempt failed", "error", err)
			w.setState(StateClosed)
			w.scheduleReconnect()
		}
	})
}

// Disconnect gracefully closes the session.
func (w *WhatsApp) Disconnect() error {
	w.setState(StateDisconnected)
	w.connected.Store(false)

	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}
	if w.envelopesClosed.CompareAndSwap(false, true) {
		close(w.envelopes)
	}
	w.logger.Info("session closed by operator")
	return nil
}

// Send sends a text message to the given chat.
func (w *WhatsApp) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	if !w.connected.Load() {
		return channels.ErrNotConnected
	}
	jid, err := parseJID(to)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", to, err)
	}
	if _, err := w.client.SendMessage(ctx, jid, buildTextMessage(msg.Text, msg.ReplyTo)); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// RemoveParticipant kicks a user from a group.
func (w *WhatsApp) RemoveParticipant(ctx context.Context, groupID, userID string) error {
	return w.updateParticipant(ctx, groupID, userID, whatsmeow.ParticipantChangeRemove)
}

// PromoteParticipant makes a user a group admin.
func (w *WhatsApp) PromoteParticipant(ctx context.Context, groupID, userID string) error {
	return w.updateParticipant(ctx, groupID, userID, whatsmeow.ParticipantChangePromote)
}

func (w *WhatsApp) updateParticipant(ctx context.Context, groupID, userID string, change whatsmeow.ParticipantChange) error {
	if !w.connected.Load() {
		return channels.ErrNotConnected
	}
	gid, err := parseJID(groupID)
	if err != nil {
		return fmt.Errorf("invalid group JID %q: %w", groupID, err)
	}
	uid, err := parseJID(userID)
	if err != nil {
		return fmt.Errorf("invalid user JID %q: %w", userID, err)
	}
	if _, err := w.client.UpdateGroupParticipants(ctx, gid, []types.JID{uid}, change); err != nil {
		return fmt.Errorf("updating group participants: %w", err)
	}
	return nil
}

// emit delivers an envelope to the pipeline, dropping it if the buffer
// is full rather than blocking the event handler.
func (w *WhatsApp) emit(env *channels.Envelope) {
	if w.envelopesClosed.Load() {
		return
	}
	select {
	case w.envelopes <- env:
	default:
		w.logger.Warn("envelope buffer full, dropping message",
			"id", env.ID, "chat", env.ChatID)
	}
}

// parseJID converts a string to types.JID, accepting bare phone numbers,
// full user JIDs, and group JIDs.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
