package transport

import "time"

type UpdateKind string

const (
	UpdateMessageCreated UpdateKind = "message_created"
	UpdateMessageEdited  UpdateKind = "message_edited"
	UpdateMessageDeleted UpdateKind = "message_deleted"
	UpdateChannelDeleted UpdateKind = "channel_deleted"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Deleted *DeletedMessage
	Channel *Channel
}

// Message is a platform-neutral view of a chat message.
// IDs are snowflakes stored as int64 (matching the persistence layer).
type Message struct {
	ID        int64
	ChannelID int64
	GuildID   int64 // 0 for direct messages
	AuthorID  int64
	AuthorBot bool
	Content   string
	Timestamp time.Time
}

// DeletedMessage carries what little the gateway knows about a removed message.
type DeletedMessage struct {
	ID        int64
	ChannelID int64
	GuildID   int64
}

type Channel struct {
	ID      int64
	GuildID int64
	Name    string
}

type Guild struct {
	ID   int64
	Name string
}

type User struct {
	ID        int64
	Name      string
	AvatarURL string
	Bot       bool
}

// Embed is the formatted payload sent as a notification DM.
type Embed struct {
	Title       string
	URL         string
	Description string
	Timestamp   time.Time
	FooterText  string
	FooterIcon  string
	Color       int
}
