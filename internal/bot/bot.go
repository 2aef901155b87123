// Package bot exposes ReplayPipe on Discord.
//
// It registers the /replay and /ping slash commands, renders a viewer session as two
// embeds plus two rows of buttons, and routes button presses and the go-to-turn modal
// back to the session that owns the message.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/BTreeMap/ReplayPipe/internal/models"
	"github.com/BTreeMap/ReplayPipe/internal/replay"
	"github.com/BTreeMap/ReplayPipe/internal/viewer"
)

// DefaultRequestTimeout bounds how long a /replay invocation waits for its replay.
const DefaultRequestTimeout = 2 * time.Minute

// ErrMissingToken is returned by New when no bot token is configured.
var ErrMissingToken = errors.New("discord bot token not set")

// User-facing messages.
const (
	msgInvalidURL      = "Please enter a valid showdown replay link."
	msgUpstream        = "I could not access the url.."
	msgScrapeTimeout   = "Replay website timed out! Please redo the command."
	msgWaitTimeout     = "The replay is taking too long to load. Please try again in a minute."
	msgScrapeFailed    = "An error occurred, I was unable to open the replay site properly. Please try again later."
	msgPleaseWait      = "Please wait while the replay is being saved.."
	msgExpired         = "This replay viewer has expired. Run /replay again to keep watching."
	msgInvalidTurn     = "Please enter a valid turn number.."
	msgUnknownTheme    = "Please pick one of the listed themes."
	msgOutOfRangeTurnF = "Please enter a number only between 0 to %d"
	msgNotOwnerF       = "Only %s can control this replay. Run /replay to open your own."
)

// Opts holds configuration for the Discord bot.
type Opts struct {
	Token          string        // bot token, without the "Bot " prefix
	GuildID        string        // register commands in one guild only; empty registers globally
	LogChannelID   string        // operator channel for unexpected errors
	IdleTimeout    time.Duration // viewer controls freeze after this long without interaction
	RequestTimeout time.Duration // per /replay invocation
	InviteQR       bool          // print the invite link as a QR code once ready
	QRWriter       io.Writer
}

// Option configures the bot.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithGuildID registers commands in a single guild, which applies instantly.
func WithGuildID(id string) Option {
	return func(o *Opts) {
		o.GuildID = id
	}
}

// WithLogChannel mirrors unexpected errors into a Discord channel.
func WithLogChannel(id string) Option {
	return func(o *Opts) {
		o.LogChannelID = id
	}
}

// WithIdleTimeout sets how long a viewer stays interactive without input.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.IdleTimeout = d
	}
}

// WithRequestTimeout bounds each /replay invocation.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.RequestTimeout = d
	}
}

// WithInviteQR prints the invite link as a terminal QR code to w once the bot is ready.
func WithInviteQR(w io.Writer) Option {
	return func(o *Opts) {
		o.InviteQR = true
		o.QRWriter = w
	}
}

// ReplayLoader is the part of replay.Service the bot depends on.
type ReplayLoader interface {
	Prepare(ctx context.Context, rawURL string) (*replay.Request, error)
	Load(ctx context.Context, req *replay.Request) (models.ParsedReplay, error)
}

// Compile-time check that replay.Service satisfies ReplayLoader.
var _ ReplayLoader = (*replay.Service)(nil)

// discordAPI lists the REST calls the handlers make. *discordgo.Session implements it.
type discordAPI interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageDelete(interaction *discordgo.Interaction, messageID string, options ...discordgo.RequestOption) error
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	HeartbeatLatency() time.Duration
}

var _ discordAPI = (*discordgo.Session)(nil)

// messageRef locates the message a viewer session is rendered in.
type messageRef struct {
	channelID string
	messageID string
}

// Bot wires Discord interactions to viewer sessions.
type Bot struct {
	session  *discordgo.Session
	api      discordAPI
	loader   ReplayLoader
	sessions *viewer.Registry
	opts     Opts

	mu       sync.Mutex
	messages map[string]messageRef
}

// New creates a bot. Call Start to connect.
func New(loader ReplayLoader, opts ...Option) (*Bot, error) {
	cfg := applyOptions(opts)
	slog.Debug("bot New options set", "token_set", cfg.Token != "", "guild_id", cfg.GuildID,
		"log_channel_set", cfg.LogChannelID != "", "idle_timeout", cfg.IdleTimeout, "request_timeout", cfg.RequestTimeout)
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}

	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		slog.Error("Failed to create Discord session", "error", err)
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds

	b := newBot(dg, loader, cfg)
	b.session = dg
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onInteractionCreate)
	return b, nil
}

func applyOptions(opts []Option) Opts {
	cfg := Opts{IdleTimeout: viewer.DefaultIdleTimeout, RequestTimeout: DefaultRequestTimeout, QRWriter: os.Stdout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.QRWriter == nil {
		cfg.QRWriter = os.Stdout
	}
	return cfg
}

func newBot(api discordAPI, loader ReplayLoader, cfg Opts) *Bot {
	b := &Bot{
		api:      api,
		loader:   loader,
		opts:     cfg,
		messages: make(map[string]messageRef),
	}
	b.sessions = viewer.NewRegistry(
		viewer.WithIdleTimeout(cfg.IdleTimeout),
		viewer.WithExpiryHandler(b.onSessionExpired),
	)
	return b
}

// Start opens the gateway connection. Commands are registered once Discord
// reports the session as ready.
func (b *Bot) Start() error {
	slog.Debug("Opening Discord gateway connection")
	if err := b.session.Open(); err != nil {
		slog.Error("Failed to open Discord connection", "error", err)
		return fmt.Errorf("failed to open discord connection: %w", err)
	}
	slog.Info("Discord gateway connected")
	return nil
}

// Stop freezes every viewer and closes the gateway connection.
func (b *Bot) Stop() error {
	slog.Debug("Stopping Discord bot", "live_sessions", b.sessions.Len())
	b.sessions.Stop()
	if b.session == nil {
		return nil
	}
	if err := b.session.Close(); err != nil {
		slog.Error("Failed to close Discord connection", "error", err)
		return err
	}
	slog.Info("Discord bot stopped")
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	slog.Info("Discord session ready", "user", r.User.Username, "guilds", len(r.Guilds))
	registered, err := s.ApplicationCommandBulkOverwrite(r.User.ID, b.opts.GuildID, commands)
	if err != nil {
		slog.Error("Failed to register slash commands", "error", err, "guild_id", b.opts.GuildID)
	} else {
		slog.Info("Slash commands registered", "count", len(registered), "guild_id", b.opts.GuildID)
	}
	if b.opts.InviteQR {
		printInviteQR(b.opts.QRWriter, r.User.ID)
	}
}

func (b *Bot) onInteractionCreate(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	b.handleInteraction(ic.Interaction)
}

func (b *Bot) handleInteraction(i *discordgo.Interaction) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		switch name := i.ApplicationCommandData().Name; name {
		case commandReplay:
			b.handleReplayCommand(i)
		case commandPing:
			b.handlePing(i)
		default:
			slog.Warn("Unknown slash command", "name", name)
		}
	case discordgo.InteractionMessageComponent:
		b.handleComponent(i)
	case discordgo.InteractionModalSubmit:
		b.handleModalSubmit(i)
	default:
		slog.Debug("Ignoring interaction", "type", i.Type)
	}
}

func (b *Bot) handlePing(i *discordgo.Interaction) {
	content := fmt.Sprintf("Pong! Gateway latency: %s", b.api.HeartbeatLatency().Round(time.Millisecond))
	if err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		slog.Error("Failed to answer ping", "error", err)
	}
}

func (b *Bot) handleReplayCommand(i *discordgo.Interaction) {
	userID := interactionUserID(i)
	rawURL, theme := replayCommandOptions(i.ApplicationCommandData())
	slog.Info("replay command received", "user_id", userID, "url", rawURL, "theme", theme)

	if err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		slog.Error("Failed to defer replay command", "error", err)
		return
	}
	if !models.IsValidTheme(theme) {
		b.followupEphemeral(i, msgUnknownTheme)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.RequestTimeout)
	defer cancel()

	req, err := b.loader.Prepare(ctx, rawURL)
	if err != nil {
		b.fail(i, err)
		return
	}

	var wait *discordgo.Message
	if req.Cached == nil {
		wait, err = b.api.FollowupMessageCreate(i, true, &discordgo.WebhookParams{Content: msgPleaseWait})
		if err != nil {
			slog.Warn("Failed to send please-wait message", "error", err)
		}
	}

	parsed, err := b.loader.Load(ctx, req)
	if err != nil {
		b.fail(i, err)
		b.deleteFollowup(i, wait)
		return
	}

	s := b.sessions.Create(userID, req.Meta, parsed, theme)
	msg, err := b.api.FollowupMessageCreate(i, true, &discordgo.WebhookParams{
		Embeds:     renderEmbeds(s),
		Components: renderControls(s),
	})
	b.deleteFollowup(i, wait)
	if err != nil {
		slog.Error("Failed to send replay viewer", "error", err, "session_id", s.ID)
		b.reportToOperators(i, fmt.Errorf("send viewer for %s: %w", req.URL, err))
		return
	}
	b.trackMessage(s.ID, msg)
	slog.Info("replay viewer opened", "session_id", s.ID, "replay_id", req.ReplayID, "total_turns", s.TotalTurns())
}

func (b *Bot) handleComponent(i *discordgo.Interaction) {
	sessionID, action, ok := parseCustomID(i.MessageComponentData().CustomID)
	if !ok {
		slog.Debug("Ignoring foreign component", "custom_id", i.MessageComponentData().CustomID)
		return
	}
	s, ok := b.ownedSession(i, sessionID)
	if !ok {
		return
	}

	var err error
	switch action {
	case actionGoto:
		if err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseModal,
			Data: turnModal(s),
		}); err != nil {
			slog.Error("Failed to open go-to-turn modal", "error", err, "session_id", sessionID)
		}
		return
	case actionPrev:
		err = s.StepBackward()
	case actionNext:
		err = s.StepForward()
	case actionFirst:
		err = s.First()
	case actionLast:
		err = s.Last()
	case actionSwap:
		err = s.SwapViewpoint()
	default:
		b.acknowledge(i)
		return
	}
	slog.Debug("viewer control pressed", "session_id", sessionID, "action", action, "error", err)
	if err != nil {
		b.rejectTransition(i, err)
		return
	}
	b.updateViewer(i, s)
}

func (b *Bot) handleModalSubmit(i *discordgo.Interaction) {
	data := i.ModalSubmitData()
	sessionID, action, ok := parseCustomID(data.CustomID)
	if !ok || action != actionGoto {
		slog.Debug("Ignoring foreign modal", "custom_id", data.CustomID)
		return
	}
	s, ok := b.ownedSession(i, sessionID)
	if !ok {
		return
	}

	target, err := viewer.ParseTurnInput(modalValue(data, turnInputID), s.TotalTurns())
	switch {
	case errors.Is(err, viewer.ErrInvalidTurnNumber):
		b.respondEphemeral(i, msgInvalidTurn)
		return
	case errors.Is(err, viewer.ErrTurnOutOfRange):
		b.respondEphemeral(i, fmt.Sprintf(msgOutOfRangeTurnF, s.TotalTurns()))
		return
	}

	moved, err := s.Jump(target)
	if err != nil {
		b.rejectTransition(i, err)
		return
	}
	if !moved {
		b.acknowledge(i)
		return
	}
	b.updateViewer(i, s)
}

// ownedSession resolves the session behind a control and checks the acting user
// owns it. It answers the interaction itself when it reports false.
func (b *Bot) ownedSession(i *discordgo.Interaction, sessionID string) (*viewer.Session, bool) {
	s, ok := b.sessions.Get(sessionID)
	if !ok {
		b.respondEphemeral(i, msgExpired)
		return nil, false
	}
	if err := s.Authorize(interactionUserID(i)); err != nil {
		b.respondEphemeral(i, fmt.Sprintf(msgNotOwnerF, "<@"+s.OwnerID+">"))
		return nil, false
	}
	b.sessions.Touch(sessionID)
	return s, true
}

func (b *Bot) rejectTransition(i *discordgo.Interaction, err error) {
	if errors.Is(err, viewer.ErrSessionFrozen) {
		b.respondEphemeral(i, msgExpired)
		return
	}
	// boundary presses race with the re-render; nothing to change
	b.acknowledge(i)
}

func (b *Bot) updateViewer(i *discordgo.Interaction, s *viewer.Session) {
	if err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     renderEmbeds(s),
			Components: renderControls(s),
		},
	}); err != nil {
		slog.Error("Failed to update replay viewer", "error", err, "session_id", s.ID)
	}
}

func (b *Bot) acknowledge(i *discordgo.Interaction) {
	if err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		slog.Error("Failed to acknowledge interaction", "error", err)
	}
}

func (b *Bot) respondEphemeral(i *discordgo.Interaction, content string) {
	if err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		slog.Error("Failed to send ephemeral response", "error", err)
	}
}

func (b *Bot) followupEphemeral(i *discordgo.Interaction, content string) {
	if _, err := b.api.FollowupMessageCreate(i, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	}); err != nil {
		slog.Error("Failed to send followup", "error", err)
	}
}

func (b *Bot) deleteFollowup(i *discordgo.Interaction, msg *discordgo.Message) {
	if msg == nil {
		return
	}
	if err := b.api.FollowupMessageDelete(i, msg.ID); err != nil {
		slog.Warn("Failed to delete followup", "error", err, "message_id", msg.ID)
	}
}

// fail reports a failed /replay to the user, and to operators when the failure
// was unexpected.
func (b *Bot) fail(i *discordgo.Interaction, err error) {
	content, unexpected := userMessage(err)
	slog.Warn("replay command failed", "error", err, "unexpected", unexpected)
	b.followupEphemeral(i, content)
	if unexpected {
		b.reportToOperators(i, err)
	}
}

// userMessage maps an error to the text shown to the user. unexpected marks
// errors that operators should look at.
func userMessage(err error) (content string, unexpected bool) {
	switch {
	case errors.Is(err, models.ErrInvalidReplayURL):
		return msgInvalidURL, false
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return msgUpstream, false
	case errors.Is(err, models.ErrScrapeTimeout):
		return msgScrapeTimeout, false
	case errors.Is(err, context.DeadlineExceeded):
		return msgWaitTimeout, false
	default:
		return msgScrapeFailed, true
	}
}

func (b *Bot) reportToOperators(i *discordgo.Interaction, err error) {
	if b.opts.LogChannelID == "" {
		return
	}
	content := truncate(fmt.Sprintf("**ReplayPipe error** for <@%s> in <#%s>:\n```\n%v\n```",
		interactionUserID(i), i.ChannelID, err), 2000)
	if _, sendErr := b.api.ChannelMessageSend(b.opts.LogChannelID, content); sendErr != nil {
		slog.Error("Failed to post to operator log channel", "error", sendErr, "channel_id", b.opts.LogChannelID)
	}
}

func (b *Bot) trackMessage(sessionID string, msg *discordgo.Message) {
	if msg == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[sessionID] = messageRef{channelID: msg.ChannelID, messageID: msg.ID}
}

// onSessionExpired re-renders the viewer with every control disabled.
func (b *Bot) onSessionExpired(s *viewer.Session) {
	b.mu.Lock()
	ref, ok := b.messages[s.ID]
	delete(b.messages, s.ID)
	b.mu.Unlock()
	if !ok {
		return
	}

	embeds := renderEmbeds(s)
	components := renderControls(s)
	if _, err := b.api.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         ref.messageID,
		Channel:    ref.channelID,
		Embeds:     &embeds,
		Components: &components,
	}); err != nil {
		slog.Warn("Failed to freeze expired viewer", "error", err, "session_id", s.ID)
		return
	}
	slog.Debug("Expired viewer frozen", "session_id", s.ID, "message_id", ref.messageID)
}

func interactionUserID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
