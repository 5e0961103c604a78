package highlight

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"keywatch/internal/resolve"
	"keywatch/internal/storage"
	"keywatch/internal/transport"
	logx "keywatch/pkg/logx"
)

// Candidate is one (subscriber, keyword) pair that a message matched.
type Candidate struct {
	UserID  int64
	Keyword string
}

// Matcher produces notification candidates for inbound guild messages.
//
// Exclusions applied here, before any watch is started:
//   - the author never matches their own keywords
//   - subscribers who muted the channel
//   - subscribers who cannot read the channel
//   - subscribers whose recipient state marks them undeliverable
type Matcher struct {
	store   storage.Store
	canRead resolve.ReadChecker
	log     logx.Logger
}

func NewMatcher(store storage.Store, canRead resolve.ReadChecker, log logx.Logger) *Matcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Matcher{store: store, canRead: canRead, log: log}
}

func (m *Matcher) Candidates(ctx context.Context, msg transport.Message) ([]Candidate, error) {
	keywords, err := m.store.KeywordsInGuild(ctx, msg.GuildID)
	if err != nil {
		return nil, err
	}
	if len(keywords) == 0 {
		return nil, nil
	}

	muters, err := m.store.ChannelMuters(ctx, msg.ChannelID)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	seen := map[Candidate]struct{}{}
	for _, kw := range keywords {
		if kw.UserID == msg.AuthorID {
			continue
		}
		if _, muted := muters[kw.UserID]; muted {
			continue
		}
		if !ContainsKeyword(msg.Content, kw.Keyword) {
			continue
		}

		cand := Candidate{UserID: kw.UserID, Keyword: kw.Keyword}
		if _, dup := seen[cand]; dup {
			continue
		}
		seen[cand] = struct{}{}

		if ok, err := m.deliverable(ctx, msg.ChannelID, kw.UserID); err != nil {
			m.log.Warn("skipping candidate",
				logx.Int64("user_id", kw.UserID),
				logx.Int64("channel_id", msg.ChannelID),
				logx.Err(err))
			continue
		} else if !ok {
			continue
		}

		out = append(out, cand)
	}
	return out, nil
}

func (m *Matcher) deliverable(ctx context.Context, channelID, userID int64) (bool, error) {
	if m.canRead != nil {
		ok, err := m.canRead(ctx, channelID, userID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	st, err := m.store.UserState(ctx, userID)
	if err != nil {
		// Includes UnknownUserStateError: a corrupt state code drops the
		// candidate, it never falls through to delivery.
		return false, err
	}
	if st != nil && st.State == storage.UserStateCannotDM {
		return false, nil
	}
	return true, nil
}

// ContainsKeyword reports whether keyword occurs in content, matching
// case-insensitively and only at word-ish boundaries: the characters
// adjacent to the occurrence must not be letters or digits.
func ContainsKeyword(content, keyword string) bool {
	if keyword == "" {
		return false
	}
	lc := strings.ToLower(content)
	lk := strings.ToLower(keyword)

	for i := 0; ; {
		j := strings.Index(lc[i:], lk)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(lk)
		if boundaryBefore(lc, start) && boundaryAfter(lc, end) {
			return true
		}
		i = start + 1
	}
}

func boundaryBefore(s string, idx int) bool {
	if idx == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:idx])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, idx int) bool {
	if idx >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[idx:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
