package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"keywatch/internal/metrics"
	logx "keywatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite store at cfg.Path, creating the parent
// directory and the schema if needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Keyword subscriptions ----

func (s *sqliteStore) AddKeyword(ctx context.Context, kw Keyword) error {
	defer metrics.Query("add keyword").Stop()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO keywords (keyword, user_id, guild_id) VALUES (?, ?, ?)
		 ON CONFLICT (keyword, user_id, guild_id) DO NOTHING`,
		kw.Keyword, kw.UserID, kw.GuildID,
	)
	return err
}

func (s *sqliteStore) DeleteKeyword(ctx context.Context, kw Keyword) error {
	defer metrics.Query("delete keyword").Stop()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM keywords WHERE keyword = ? AND user_id = ? AND guild_id = ?`,
		kw.Keyword, kw.UserID, kw.GuildID,
	)
	return err
}

func (s *sqliteStore) KeywordsInGuild(ctx context.Context, guildID int64) ([]Keyword, error) {
	defer metrics.Query("keywords in guild").Stop()
	rows, err := s.db.QueryContext(ctx,
		`SELECT keyword, user_id, guild_id FROM keywords WHERE guild_id = ?`,
		guildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeywords(rows)
}

func (s *sqliteStore) KeywordsOfUser(ctx context.Context, userID int64) ([]Keyword, error) {
	defer metrics.Query("keywords of user").Stop()
	rows, err := s.db.QueryContext(ctx,
		`SELECT keyword, user_id, guild_id FROM keywords WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeywords(rows)
}

func (s *sqliteStore) CountKeywords(ctx context.Context, userID int64) (int, error) {
	defer metrics.Query("count keywords").Stop()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM keywords WHERE user_id = ?`, userID,
	).Scan(&n)
	return n, err
}

func scanKeywords(rows *sql.Rows) ([]Keyword, error) {
	var out []Keyword
	for rows.Next() {
		var kw Keyword
		if err := rows.Scan(&kw.Keyword, &kw.UserID, &kw.GuildID); err != nil {
			return nil, err
		}
		out = append(out, kw)
	}
	return out, rows.Err()
}

// ---- Channel mutes ----

func (s *sqliteStore) AddMute(ctx context.Context, userID, channelID int64) error {
	defer metrics.Query("add mute").Stop()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mutes (user_id, channel_id) VALUES (?, ?)
		 ON CONFLICT (user_id, channel_id) DO NOTHING`,
		userID, channelID,
	)
	return err
}

func (s *sqliteStore) DeleteMute(ctx context.Context, userID, channelID int64) error {
	defer metrics.Query("delete mute").Stop()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM mutes WHERE user_id = ? AND channel_id = ?`,
		userID, channelID,
	)
	return err
}

func (s *sqliteStore) ChannelMuters(ctx context.Context, channelID int64) (map[int64]struct{}, error) {
	defer metrics.Query("channel muters").Stop()
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM mutes WHERE channel_id = ?`, channelID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]struct{}{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// ---- Notification ledger ----

func (s *sqliteStore) InsertNotification(ctx context.Context, n Notification) error {
	defer metrics.Query("insert notification").Stop()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_notifications (
			original_message, notification_message, keyword, user_id
		 ) VALUES (?, ?, ?, ?)`,
		n.OriginalMessage, n.NotificationMessage, n.Keyword, n.UserID,
	)
	return err
}

// NotificationsOfMessage returns the notifications caused by the given
// message, in insertion order.
func (s *sqliteStore) NotificationsOfMessage(ctx context.Context, originalMessage int64) ([]Notification, error) {
	defer metrics.Query("notifications of message").Stop()
	rows, err := s.db.QueryContext(ctx,
		`SELECT original_message, notification_message, keyword, user_id
		 FROM sent_notifications
		 WHERE original_message = ?
		 ORDER BY rowid`,
		originalMessage,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.OriginalMessage, &n.NotificationMessage, &n.Keyword, &n.UserID); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteNotification(ctx context.Context, notificationMessage int64) error {
	defer metrics.Query("delete notification").Stop()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sent_notifications WHERE notification_message = ?`,
		notificationMessage,
	)
	return err
}

func (s *sqliteStore) DeleteNotificationsOfMessage(ctx context.Context, originalMessage int64) error {
	defer metrics.Query("delete notifications of message").Stop()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sent_notifications WHERE original_message = ?`,
		originalMessage,
	)
	return err
}

// ---- Recipient state ----

func (s *sqliteStore) UserState(ctx context.Context, userID int64) (*UserState, error) {
	defer metrics.Query("user state").Stop()
	var code int64
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM user_states WHERE user_id = ?`, userID,
	).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	kind, err := userStateFromCode(userID, code)
	if err != nil {
		return nil, err
	}
	return &UserState{UserID: userID, State: kind}, nil
}

func (s *sqliteStore) SetUserState(ctx context.Context, st UserState) error {
	defer metrics.Query("set user state").Stop()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_states (user_id, state) VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET state = excluded.state`,
		st.UserID, int64(st.State),
	)
	return err
}

func (s *sqliteStore) ClearUserState(ctx context.Context, userID int64) error {
	defer metrics.Query("clear user state").Stop()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_states WHERE user_id = ?`, userID,
	)
	return err
}

func userStateFromCode(userID, code int64) (UserStateKind, error) {
	switch code {
	case int64(UserStateCannotDM):
		return UserStateCannotDM, nil
	default:
		return 0, &UnknownUserStateError{UserID: userID, Code: code}
	}
}

// ---- Backup ----

// Backup snapshots the database into dir using VACUUM INTO, which is safe
// against concurrent readers and writers.
func (s *sqliteStore) Backup(ctx context.Context, dir string) error {
	defer metrics.Query("backup").Stop()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(dir, fmt.Sprintf("keywatch-%s.db", time.Now().UTC().Format("20060102-150405")))
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup target already exists: %s", dest)
	}
	_, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest)
	if err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	s.log.Info("database backed up", logx.String("dest", dest))
	return nil
}
