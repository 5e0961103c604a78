package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"keywatch/internal/transport"
	logx "keywatch/pkg/logx"
)

type Config struct {
	Token string
}

// Adapter implements transport.Gateway on top of a discordgo session.
//
// Inbound events are forwarded to the CURRENT output channel with a
// non-blocking send; drops are counted and logged periodically instead of
// per-event to avoid log spam when the consumer lags behind the gateway.
type Adapter struct {
	cfg Config
	log logx.Logger

	session *discordgo.Session
	out     atomic.Value // stores (chan<- transport.Update)

	runMu   sync.Mutex
	running bool

	botUserID atomic.Int64

	droppedUpdates atomic.Uint64
	dropLogStop    chan struct{}
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	s.StateEnabled = true

	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, session: s}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Message == nil || m.Author == nil {
			return
		}
		msg := a.toMessage(m.Message)
		a.sendUpdate(transport.Update{Kind: transport.UpdateMessageCreated, Message: &msg})
	})

	a.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
		// Embed-unfurl updates carry no author; those are not edits we care about.
		if m.Message == nil || m.Author == nil {
			return
		}
		msg := a.toMessage(m.Message)
		a.sendUpdate(transport.Update{Kind: transport.UpdateMessageEdited, Message: &msg})
	})

	a.session.AddHandler(func(_ *discordgo.Session, c *discordgo.ChannelDelete) {
		if c.Channel == nil {
			return
		}
		ch := transport.Channel{
			ID:      parseID(c.ID),
			GuildID: parseID(c.GuildID),
			Name:    c.Name,
		}
		a.sendUpdate(transport.Update{Kind: transport.UpdateChannelDeleted, Channel: &ch})
	})

	a.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) {
		if m.Message == nil {
			return
		}
		del := transport.DeletedMessage{
			ID:        parseID(m.ID),
			ChannelID: parseID(m.ChannelID),
			GuildID:   parseID(m.GuildID),
		}
		a.sendUpdate(transport.Update{Kind: transport.UpdateMessageDeleted, Deleted: &del})
	})
}

func (a *Adapter) toMessage(m *discordgo.Message) transport.Message {
	var ts time.Time
	if !m.Timestamp.IsZero() {
		ts = m.Timestamp
	}
	return transport.Message{
		ID:        parseID(m.ID),
		ChannelID: parseID(m.ChannelID),
		GuildID:   parseID(m.GuildID),
		AuthorID:  parseID(m.Author.ID),
		AuthorBot: m.Author.Bot,
		Content:   m.Content,
		Timestamp: ts,
	}
}

func (a *Adapter) sendUpdate(up transport.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return errors.New("discord adapter already started")
	}

	a.out.Store(out)
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	if u := a.session.State.User; u != nil {
		a.botUserID.Store(parseID(u.ID))
	}

	a.dropLogStop = make(chan struct{})
	go a.dropLogLoop(ctx, a.dropLogStop)

	a.running = true
	a.log.Info("discord gateway connected", logx.Int64("bot_user_id", a.botUserID.Load()))
	return nil
}

func (a *Adapter) dropLogLoop(ctx context.Context, stop <-chan struct{}) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-t.C:
			if n := a.droppedUpdates.Swap(0); n > 0 {
				a.log.Warn("updates dropped (consumer slow)", logx.Uint64("count", n))
			}
		}
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	if a.dropLogStop != nil {
		close(a.dropLogStop)
		a.dropLogStop = nil
	}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	return a.session.Close()
}

func (a *Adapter) BotUserID() int64 { return a.botUserID.Load() }

func (a *Adapter) GuildTextChannels(ctx context.Context, guildID int64) (map[int64]transport.Channel, error) {
	g, err := a.session.State.Guild(formatID(guildID))
	if err != nil {
		return nil, fmt.Errorf("guild %d not in state: %w", guildID, err)
	}
	out := make(map[int64]transport.Channel, len(g.Channels))
	for _, ch := range g.Channels {
		if !isTextChannel(ch.Type) {
			continue
		}
		id := parseID(ch.ID)
		out[id] = transport.Channel{ID: id, GuildID: guildID, Name: ch.Name}
	}
	return out, nil
}

func (a *Adapter) Channel(ctx context.Context, channelID int64) (transport.Channel, error) {
	ch, err := a.session.State.Channel(formatID(channelID))
	if err != nil {
		ch, err = a.session.Channel(formatID(channelID))
		if err != nil {
			return transport.Channel{}, fmt.Errorf("channel %d: %w", channelID, err)
		}
	}
	return transport.Channel{ID: channelID, GuildID: parseID(ch.GuildID), Name: ch.Name}, nil
}

func (a *Adapter) Guild(ctx context.Context, guildID int64) (transport.Guild, error) {
	g, err := a.session.State.Guild(formatID(guildID))
	if err != nil {
		g, err = a.session.Guild(formatID(guildID))
		if err != nil {
			return transport.Guild{}, fmt.Errorf("guild %d: %w", guildID, err)
		}
	}
	return transport.Guild{ID: guildID, Name: g.Name}, nil
}

func (a *Adapter) User(ctx context.Context, userID int64) (transport.User, error) {
	u, err := a.session.User(formatID(userID))
	if err != nil {
		return transport.User{}, fmt.Errorf("user %d: %w", userID, err)
	}
	return transport.User{
		ID:        userID,
		Name:      u.Username,
		AvatarURL: u.AvatarURL(""),
		Bot:       u.Bot,
	}, nil
}

func (a *Adapter) CanRead(ctx context.Context, channelID, userID int64) (bool, error) {
	perms, err := a.session.UserChannelPermissions(formatID(userID), formatID(channelID))
	if err != nil {
		return false, fmt.Errorf("permissions of %d in %d: %w", userID, channelID, err)
	}
	return perms&discordgo.PermissionViewChannel != 0, nil
}

func (a *Adapter) OpenDM(ctx context.Context, userID int64) (int64, error) {
	ch, err := a.session.UserChannelCreate(formatID(userID))
	if err != nil {
		return 0, fmt.Errorf("open dm to %d: %w", userID, err)
	}
	return parseID(ch.ID), nil
}

func (a *Adapter) SendEmbed(ctx context.Context, channelID int64, e transport.Embed) (int64, error) {
	embed := &discordgo.MessageEmbed{
		Description: e.Description,
		Color:       e.Color,
		Author: &discordgo.MessageEmbedAuthor{
			Name: e.Title,
			URL:  e.URL,
		},
	}
	if !e.Timestamp.IsZero() {
		embed.Timestamp = e.Timestamp.Format(time.RFC3339)
	}
	if e.FooterText != "" || e.FooterIcon != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text:    e.FooterText,
			IconURL: e.FooterIcon,
		}
	}
	msg, err := a.session.ChannelMessageSendEmbed(formatID(channelID), embed)
	if err != nil {
		return 0, fmt.Errorf("send embed to %d: %w", channelID, err)
	}
	return parseID(msg.ID), nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID int64) error {
	if err := a.session.ChannelMessageDelete(formatID(channelID), formatID(messageID)); err != nil {
		return fmt.Errorf("delete message %d in %d: %w", messageID, channelID, err)
	}
	return nil
}

func isTextChannel(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return true
	default:
		return false
	}
}

// Discord snowflakes are decimal strings on the wire; everything internal
// (and the sqlite schema) uses int64.
func parseID(s string) int64 {
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
