package highlight

import (
	"context"
	"fmt"
	"sync"

	"keywatch/internal/transport"
)

// fakeGateway is an in-memory transport.Gateway for engine tests.
type fakeGateway struct {
	mu sync.Mutex

	channels map[int64]transport.Channel
	guilds   map[int64]transport.Guild
	users    map[int64]transport.User

	sendErr   error
	openDMErr error

	nextMsgID int64
	sent      []sentEmbed
	deleted   []deletedRef
}

type sentEmbed struct {
	ChannelID int64
	MessageID int64
	Embed     transport.Embed
}

type deletedRef struct {
	ChannelID int64
	MessageID int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		channels: map[int64]transport.Channel{
			500: {ID: 500, GuildID: 900, Name: "general"},
		},
		guilds: map[int64]transport.Guild{
			900: {ID: 900, Name: "testers"},
		},
		users: map[int64]transport.User{
			1: {ID: 1, Name: "alice", AvatarURL: "https://cdn.example/alice.png"},
			2: {ID: 2, Name: "bob", AvatarURL: "https://cdn.example/bob.png"},
		},
		nextMsgID: 7000,
	}
}

func (g *fakeGateway) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (g *fakeGateway) Stop(ctx context.Context) error                               { return nil }
func (g *fakeGateway) BotUserID() int64                                             { return 999 }

func (g *fakeGateway) GuildTextChannels(ctx context.Context, guildID int64) (map[int64]transport.Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := map[int64]transport.Channel{}
	for id, ch := range g.channels {
		if ch.GuildID == guildID {
			out[id] = ch
		}
	}
	return out, nil
}

func (g *fakeGateway) Channel(ctx context.Context, channelID int64) (transport.Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.channels[channelID]
	if !ok {
		return transport.Channel{}, fmt.Errorf("channel %d not found", channelID)
	}
	return ch, nil
}

func (g *fakeGateway) Guild(ctx context.Context, guildID int64) (transport.Guild, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gd, ok := g.guilds[guildID]
	if !ok {
		return transport.Guild{}, fmt.Errorf("guild %d not found", guildID)
	}
	return gd, nil
}

func (g *fakeGateway) User(ctx context.Context, userID int64) (transport.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.users[userID]
	if !ok {
		return transport.User{}, fmt.Errorf("user %d not found", userID)
	}
	return u, nil
}

func (g *fakeGateway) CanRead(ctx context.Context, channelID, userID int64) (bool, error) {
	return true, nil
}

// DM channel IDs are derived from user IDs so tests can predict them.
func (g *fakeGateway) OpenDM(ctx context.Context, userID int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openDMErr != nil {
		return 0, g.openDMErr
	}
	return 10000 + userID, nil
}

func (g *fakeGateway) SendEmbed(ctx context.Context, channelID int64, e transport.Embed) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return 0, g.sendErr
	}
	g.nextMsgID++
	g.sent = append(g.sent, sentEmbed{ChannelID: channelID, MessageID: g.nextMsgID, Embed: e})
	return g.nextMsgID, nil
}

func (g *fakeGateway) DeleteMessage(ctx context.Context, channelID, messageID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, deletedRef{ChannelID: channelID, MessageID: messageID})
	return nil
}

func (g *fakeGateway) sentEmbeds() []sentEmbed {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentEmbed(nil), g.sent...)
}

func (g *fakeGateway) deletedRefs() []deletedRef {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]deletedRef(nil), g.deleted...)
}
