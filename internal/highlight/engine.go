package highlight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"keywatch/internal/eventbus"
	"keywatch/internal/metrics"
	"keywatch/internal/storage"
	"keywatch/internal/transport"
	logx "keywatch/pkg/logx"
)

const embedColor = 0xefff47

// Reporter receives delivery failures together with their context.
// Failures are never retried and never escalate to a crash.
type Reporter interface {
	Report(ctx context.Context, channelID, userID int64, err error)
}

// PatienceFunc returns the current patience window. It is called once per
// watch so config reloads apply to watches started afterwards.
type PatienceFunc func() time.Duration

// Engine runs the debounced notification pipeline.
//
// For every candidate produced by the Matcher it starts an independent
// watch: a race between the patience timer and a follow-up message from
// the source author in the source channel. Only a watch that times out
// delivers, and only a successful delivery writes a ledger row, so an
// abandoned watch can never corrupt the ledger.
type Engine struct {
	log      logx.Logger
	gw       transport.Gateway
	store    storage.Store
	matcher  *Matcher
	waiters  *Waiters
	reporter Reporter
	patience PatienceFunc
	bus      eventbus.Bus

	wg sync.WaitGroup
}

func NewEngine(
	gw transport.Gateway,
	store storage.Store,
	matcher *Matcher,
	reporter Reporter,
	patience PatienceFunc,
	log logx.Logger,
	bus eventbus.Bus,
) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		log:      log,
		gw:       gw,
		store:    store,
		matcher:  matcher,
		waiters:  NewWaiters(),
		reporter: reporter,
		patience: patience,
		bus:      bus,
	}
}

func (e *Engine) publish(typ string, data any) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// HandleMessage feeds one inbound guild message through the pipeline:
// it first resolves any watches waiting on this author+channel, then
// spawns a watch per fresh candidate.
func (e *Engine) HandleMessage(ctx context.Context, msg transport.Message) {
	e.waiters.Observe(msg)

	if msg.AuthorBot || msg.GuildID == 0 {
		return
	}

	cands, err := e.matcher.Candidates(ctx, msg)
	if err != nil {
		e.log.Error("matching failed",
			logx.Int64("channel_id", msg.ChannelID),
			logx.Int64("message_id", msg.ID),
			logx.Err(err))
		return
	}

	for _, cand := range cands {
		// Register the follow-up waiter before returning to the dispatch
		// loop: the disqualifying message may be the very next update, and
		// a waiter registered only after the goroutine is scheduled would
		// miss it.
		fired, cancel := e.waiters.Await(msg.ChannelID, msg.AuthorID)
		e.wg.Add(1)
		go e.watch(ctx, msg, cand, fired, cancel)
	}
}

// HandleChannelDeleted suppresses every pending watch in the channel.
func (e *Engine) HandleChannelDeleted(channelID int64) {
	e.waiters.ObserveChannelGone(channelID)
}

// Pending reports the number of in-flight watches (for tests and /status).
func (e *Engine) Pending() int { return e.waiters.Pending() }

// Wait blocks until all in-flight watches have finished.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) watch(ctx context.Context, msg transport.Message, cand Candidate, fired <-chan struct{}, cancel func()) {
	defer e.wg.Done()

	timer := time.NewTimer(e.patience())

	select {
	case <-fired:
		// The author spoke again while the subscriber is presumably
		// watching the channel; interrupting them would be redundant.
		timer.Stop()
		e.publish(eventbus.EventSuppressed, cand.UserID)
		return
	case <-ctx.Done():
		cancel()
		timer.Stop()
		return
	case <-timer.C:
		cancel()
	}

	e.deliver(ctx, msg, cand)
}

func (e *Engine) deliver(ctx context.Context, msg transport.Message, cand Candidate) {
	defer metrics.Command("notify keyword").Stop()

	notifID, err := e.send(ctx, msg, cand)
	if err != nil {
		e.reporter.Report(ctx, msg.ChannelID, cand.UserID, err)
		return
	}

	n := storage.Notification{
		OriginalMessage:     msg.ID,
		NotificationMessage: notifID,
		Keyword:             cand.Keyword,
		UserID:              cand.UserID,
	}
	if err := e.store.InsertNotification(ctx, n); err != nil {
		e.reporter.Report(ctx, msg.ChannelID, cand.UserID,
			fmt.Errorf("recording notification %d: %w", notifID, err))
		return
	}

	e.log.Debug("notification delivered",
		logx.Int64("user_id", cand.UserID),
		logx.String("keyword", cand.Keyword),
		logx.Int64("original_message", msg.ID),
		logx.Int64("notification_message", notifID))
	e.publish(eventbus.EventDelivered, cand.UserID)
}

func (e *Engine) send(ctx context.Context, msg transport.Message, cand Candidate) (int64, error) {
	channel, err := e.gw.Channel(ctx, msg.ChannelID)
	if err != nil {
		return 0, fmt.Errorf("channel for keyword: %w", err)
	}
	guild, err := e.gw.Guild(ctx, msg.GuildID)
	if err != nil {
		return 0, fmt.Errorf("guild for keyword: %w", err)
	}
	author, err := e.gw.User(ctx, msg.AuthorID)
	if err != nil {
		return 0, fmt.Errorf("author for keyword: %w", err)
	}

	embed := transport.Embed{
		Title:       fmt.Sprintf("Keyword %q seen in #%s (%s)", cand.Keyword, channel.Name, guild.Name),
		URL:         MessageLink(msg.GuildID, msg.ChannelID, msg.ID),
		Description: FormatExcerpt(msg.Content, cand.Keyword),
		Timestamp:   msg.Timestamp,
		FooterText:  author.Name,
		FooterIcon:  author.AvatarURL,
		Color:       embedColor,
	}

	dm, err := e.gw.OpenDM(ctx, cand.UserID)
	if err != nil {
		return 0, err
	}
	return e.gw.SendEmbed(ctx, dm, embed)
}

// ---- Retraction ----

// RetractMessage removes every notification the given source message
// caused: the DMs are deleted best-effort, the ledger rows always.
func (e *Engine) RetractMessage(ctx context.Context, originalMessage int64) error {
	rows, err := e.store.NotificationsOfMessage(ctx, originalMessage)
	if err != nil {
		return err
	}
	for _, n := range rows {
		e.deleteNotificationDM(ctx, n)
	}
	if err := e.store.DeleteNotificationsOfMessage(ctx, originalMessage); err != nil {
		return err
	}
	if len(rows) > 0 {
		e.publish(eventbus.EventRetracted, originalMessage)
	}
	return nil
}

// HandleEdit re-checks the ledger rows of an edited message and retracts
// those whose keyword no longer occurs in the new content.
func (e *Engine) HandleEdit(ctx context.Context, msg transport.Message) error {
	rows, err := e.store.NotificationsOfMessage(ctx, msg.ID)
	if err != nil {
		return err
	}
	for _, n := range rows {
		if ContainsKeyword(msg.Content, n.Keyword) {
			continue
		}
		e.deleteNotificationDM(ctx, n)
		if err := e.store.DeleteNotification(ctx, n.NotificationMessage); err != nil {
			return err
		}
	}
	return nil
}

// ForgetNotification drops the ledger row for a notification message the
// recipient deleted themselves. Unknown IDs are a no-op.
func (e *Engine) ForgetNotification(ctx context.Context, notificationMessage int64) error {
	return e.store.DeleteNotification(ctx, notificationMessage)
}

func (e *Engine) deleteNotificationDM(ctx context.Context, n storage.Notification) {
	dm, err := e.gw.OpenDM(ctx, n.UserID)
	if err == nil {
		err = e.gw.DeleteMessage(ctx, dm, n.NotificationMessage)
	}
	if err != nil {
		e.log.Warn("could not delete notification message",
			logx.Int64("user_id", n.UserID),
			logx.Int64("notification_message", n.NotificationMessage),
			logx.Err(err))
	}
}
