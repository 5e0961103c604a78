package transport

import "context"

// Gateway abstracts the chat platform connection.
//
// Contract:
//   - Start pumps inbound updates into out until Stop or ctx cancellation.
//     Sends must never block the platform event loop (drop + count instead).
//   - Metadata lookups serve from the gateway's live cache where possible;
//     a miss is a wrapped error naming the ID, never an empty value.
//   - All methods are safe for concurrent use.
type Gateway interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// BotUserID is the acting user's own ID (stable after Start).
	BotUserID() int64

	// GuildTextChannels lists the text-capable channels of a guild.
	GuildTextChannels(ctx context.Context, guildID int64) (map[int64]Channel, error)
	Channel(ctx context.Context, channelID int64) (Channel, error)
	Guild(ctx context.Context, guildID int64) (Guild, error)
	User(ctx context.Context, userID int64) (User, error)

	// CanRead reports whether userID currently has read access to the channel.
	CanRead(ctx context.Context, channelID, userID int64) (bool, error)

	// OpenDM resolves (creating if needed) the private channel to a user.
	OpenDM(ctx context.Context, userID int64) (channelID int64, err error)
	SendEmbed(ctx context.Context, channelID int64, e Embed) (messageID int64, err error)
	DeleteMessage(ctx context.Context, channelID, messageID int64) error
}
