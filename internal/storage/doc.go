// Package storage provides the bot's persistence layer.
//
// It owns four tables:
//   - keywords: per-user keyword subscriptions, scoped to a guild
//   - mutes: channels a user muted (their keywords never trigger there)
//   - sent_notifications: the ledger of delivered notifications, kept so
//     they can be retracted when the source message disappears
//   - user_states: per-user delivery flags (currently only "cannot DM")
package storage
