package storage

import (
	"context"
	"fmt"
	"time"
)

// Keyword is one subscription: user_id wants to hear about keyword in guild_id.
// Uniqueness of (keyword, user_id, guild_id) is enforced by the schema.
type Keyword struct {
	Keyword string
	UserID  int64
	GuildID int64
}

// Notification records one delivered notification message.
// Rows are immutable; they are only ever inserted and deleted.
type Notification struct {
	// OriginalMessage is the message that caused the notification.
	OriginalMessage int64
	// NotificationMessage is the DM that was sent. Unique; the handle
	// used when the recipient deletes the DM.
	NotificationMessage int64
	// Keyword is the matched keyword text, denormalized for display.
	Keyword string
	// UserID is the subscriber that was notified.
	UserID int64
}

// UserStateKind is a closed set of per-user delivery flags.
type UserStateKind uint8

const (
	// UserStateCannotDM marks a user whose DMs are closed to the bot.
	UserStateCannotDM UserStateKind = 0
)

// UnknownUserStateError is returned when a persisted state code is not a
// known UserStateKind. Silently defaulting could wrongly suppress or allow
// delivery, so decoding rejects the row instead.
type UnknownUserStateError struct {
	UserID int64
	Code   int64
}

func (e *UnknownUserStateError) Error() string {
	return fmt.Sprintf("user %d has unknown state code %d", e.UserID, e.Code)
}

type UserState struct {
	UserID int64
	State  UserStateKind
}

// Store is the persistence API used by the highlight engine and by
// command handlers. All operations are single-statement atomic; no
// operation depends on a multi-row read-then-write unit.
type Store interface {
	// Keyword subscriptions.
	AddKeyword(ctx context.Context, kw Keyword) error
	DeleteKeyword(ctx context.Context, kw Keyword) error
	KeywordsInGuild(ctx context.Context, guildID int64) ([]Keyword, error)
	KeywordsOfUser(ctx context.Context, userID int64) ([]Keyword, error)
	CountKeywords(ctx context.Context, userID int64) (int, error)

	// Channel mutes.
	AddMute(ctx context.Context, userID, channelID int64) error
	DeleteMute(ctx context.Context, userID, channelID int64) error
	ChannelMuters(ctx context.Context, channelID int64) (map[int64]struct{}, error)

	// Notification ledger.
	InsertNotification(ctx context.Context, n Notification) error
	NotificationsOfMessage(ctx context.Context, originalMessage int64) ([]Notification, error)
	DeleteNotification(ctx context.Context, notificationMessage int64) error
	DeleteNotificationsOfMessage(ctx context.Context, originalMessage int64) error

	// Recipient state.
	UserState(ctx context.Context, userID int64) (*UserState, error)
	SetUserState(ctx context.Context, st UserState) error
	ClearUserState(ctx context.Context, userID int64) error

	// Backup writes a consistent snapshot of the database into dir.
	Backup(ctx context.Context, dir string) error

	Close() error
}

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}
