package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "keywatch/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestNotificationLedger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	rows := []Notification{
		{OriginalMessage: 10, NotificationMessage: 100, Keyword: "alpha", UserID: 1},
		{OriginalMessage: 10, NotificationMessage: 101, Keyword: "beta", UserID: 2},
		{OriginalMessage: 20, NotificationMessage: 102, Keyword: "alpha", UserID: 1},
	}
	for _, n := range rows {
		if err := st.InsertNotification(ctx, n); err != nil {
			t.Fatalf("InsertNotification(%+v): %v", n, err)
		}
	}

	got, err := st.NotificationsOfMessage(ctx, 10)
	if err != nil {
		t.Fatalf("NotificationsOfMessage: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d notifications for message 10, want 2", len(got))
	}
	// Insertion order is preserved.
	if got[0].NotificationMessage != 100 || got[1].NotificationMessage != 101 {
		t.Fatalf("unexpected order: %+v", got)
	}

	// Deleting one notification leaves its sibling intact.
	if err := st.DeleteNotification(ctx, 100); err != nil {
		t.Fatalf("DeleteNotification: %v", err)
	}
	got, err = st.NotificationsOfMessage(ctx, 10)
	if err != nil {
		t.Fatalf("NotificationsOfMessage: %v", err)
	}
	if len(got) != 1 || got[0].NotificationMessage != 101 {
		t.Fatalf("after single delete: %+v", got)
	}

	// Bulk delete by source removes everything for that message only.
	if err := st.DeleteNotificationsOfMessage(ctx, 10); err != nil {
		t.Fatalf("DeleteNotificationsOfMessage: %v", err)
	}
	got, err = st.NotificationsOfMessage(ctx, 10)
	if err != nil {
		t.Fatalf("NotificationsOfMessage: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("message 10 still has notifications: %+v", got)
	}
	got, err = st.NotificationsOfMessage(ctx, 20)
	if err != nil {
		t.Fatalf("NotificationsOfMessage: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("message 20 lost its notification: %+v", got)
	}
}

func TestNotificationMessageUnique(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	n := Notification{OriginalMessage: 1, NotificationMessage: 2, Keyword: "k", UserID: 3}
	if err := st.InsertNotification(ctx, n); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := st.InsertNotification(ctx, n); err == nil {
		t.Fatal("duplicate notification_message insert succeeded, want constraint error")
	}
}

func TestUserStateRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	got, err := st.UserState(ctx, 42)
	if err != nil {
		t.Fatalf("UserState: %v", err)
	}
	if got != nil {
		t.Fatalf("state for unknown user: %+v", got)
	}

	if err := st.SetUserState(ctx, UserState{UserID: 42, State: UserStateCannotDM}); err != nil {
		t.Fatalf("SetUserState: %v", err)
	}
	got, err = st.UserState(ctx, 42)
	if err != nil {
		t.Fatalf("UserState: %v", err)
	}
	if got == nil || got.State != UserStateCannotDM {
		t.Fatalf("state = %+v, want CannotDM", got)
	}

	// Upsert overwrites, never duplicates.
	if err := st.SetUserState(ctx, UserState{UserID: 42, State: UserStateCannotDM}); err != nil {
		t.Fatalf("SetUserState (again): %v", err)
	}

	if err := st.ClearUserState(ctx, 42); err != nil {
		t.Fatalf("ClearUserState: %v", err)
	}
	got, err = st.UserState(ctx, 42)
	if err != nil {
		t.Fatalf("UserState: %v", err)
	}
	if got != nil {
		t.Fatalf("state survived clear: %+v", got)
	}
}

func TestUserStateUnknownCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	// A code outside the closed enum must be rejected on read, not defaulted.
	if err := st.SetUserState(ctx, UserState{UserID: 7, State: UserStateKind(99)}); err != nil {
		t.Fatalf("SetUserState: %v", err)
	}
	_, err := st.UserState(ctx, 7)
	var unknown *UnknownUserStateError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownUserStateError", err)
	}
	if unknown.UserID != 7 || unknown.Code != 99 {
		t.Fatalf("unexpected error detail: %+v", unknown)
	}
}

func TestKeywordsAndMutes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	kws := []Keyword{
		{Keyword: "go", UserID: 1, GuildID: 100},
		{Keyword: "rust", UserID: 1, GuildID: 100},
		{Keyword: "go", UserID: 2, GuildID: 200},
	}
	for _, kw := range kws {
		if err := st.AddKeyword(ctx, kw); err != nil {
			t.Fatalf("AddKeyword(%+v): %v", kw, err)
		}
	}
	// Duplicate add is a no-op.
	if err := st.AddKeyword(ctx, kws[0]); err != nil {
		t.Fatalf("duplicate AddKeyword: %v", err)
	}

	inGuild, err := st.KeywordsInGuild(ctx, 100)
	if err != nil {
		t.Fatalf("KeywordsInGuild: %v", err)
	}
	if len(inGuild) != 2 {
		t.Fatalf("guild 100 has %d keywords, want 2", len(inGuild))
	}

	n, err := st.CountKeywords(ctx, 1)
	if err != nil {
		t.Fatalf("CountKeywords: %v", err)
	}
	if n != 2 {
		t.Fatalf("user 1 has %d keywords, want 2", n)
	}

	if err := st.DeleteKeyword(ctx, kws[1]); err != nil {
		t.Fatalf("DeleteKeyword: %v", err)
	}
	n, err = st.CountKeywords(ctx, 1)
	if err != nil {
		t.Fatalf("CountKeywords: %v", err)
	}
	if n != 1 {
		t.Fatalf("user 1 has %d keywords after delete, want 1", n)
	}

	if err := st.AddMute(ctx, 1, 555); err != nil {
		t.Fatalf("AddMute: %v", err)
	}
	muters, err := st.ChannelMuters(ctx, 555)
	if err != nil {
		t.Fatalf("ChannelMuters: %v", err)
	}
	if _, ok := muters[1]; !ok || len(muters) != 1 {
		t.Fatalf("muters = %v, want {1}", muters)
	}
	if err := st.DeleteMute(ctx, 1, 555); err != nil {
		t.Fatalf("DeleteMute: %v", err)
	}
	muters, err = st.ChannelMuters(ctx, 555)
	if err != nil {
		t.Fatalf("ChannelMuters: %v", err)
	}
	if len(muters) != 0 {
		t.Fatalf("muters after delete = %v, want empty", muters)
	}
}

func TestBackup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if err := st.InsertNotification(ctx, Notification{OriginalMessage: 1, NotificationMessage: 2, Keyword: "k", UserID: 3}); err != nil {
		t.Fatalf("InsertNotification: %v", err)
	}

	dir := t.TempDir()
	if err := st.Backup(ctx, dir); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("backup dir has %d entries, want 1", len(entries))
	}
}
