// Package resolve turns raw command arguments into channels and users, and
// classifies resolved channels by who is allowed to read them. It performs
// no writes; command handlers format the partitioned results into replies.
package resolve

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"keywatch/internal/transport"
)

var channelMention = regexp.MustCompile(`^<#([0-9]+)>$`)

// ChannelMatch pairs a resolved channel with the argument token that named
// it, preserved for user-facing error messages.
type ChannelMatch struct {
	Channel transport.Channel
	Arg     string
}

// ChannelsFromArgs partitions argument tokens into resolved channels and
// tokens that resolve to nothing. Every input token lands in exactly one
// of the two lists, in input order.
type ChannelsFromArgs struct {
	Found    []ChannelMatch
	NotFound []string
}

// ChannelsFrom resolves each whitespace-separated token of args against the
// given channel directory, trying in order: bare numeric ID, <#id> mention,
// case-insensitive exact name. An ambiguous name (shared by more than one
// channel) resolves to nothing.
func ChannelsFrom(args string, channels map[int64]transport.Channel) ChannelsFromArgs {
	var out ChannelsFromArgs
	for _, arg := range strings.Fields(args) {
		if ch, ok := channelFromArg(channels, arg); ok {
			out.Found = append(out.Found, ChannelMatch{Channel: ch, Arg: arg})
		} else {
			out.NotFound = append(out.NotFound, arg)
		}
	}
	return out
}

func channelFromArg(channels map[int64]transport.Channel, arg string) (transport.Channel, bool) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		ch, ok := channels[id]
		return ch, ok
	}

	if m := channelMention.FindStringSubmatch(arg); m != nil {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return transport.Channel{}, false
		}
		ch, ok := channels[id]
		return ch, ok
	}

	var (
		found transport.Channel
		n     int
	)
	for _, ch := range channels {
		if strings.EqualFold(ch.Name, arg) {
			found = ch
			n++
			if n > 1 {
				return transport.Channel{}, false
			}
		}
	}
	return found, n == 1
}

// ReadChecker reports whether userID can currently read channelID.
// Errors indicate a transport/cache inconsistency, not a denied permission.
type ReadChecker func(ctx context.Context, channelID, userID int64) (bool, error)

// ReadableChannels partitions resolved channels by readability. Bucket
// order matters to callers: a requester-authorization failure must be
// reported differently from the bot lacking access itself.
type ReadableChannels struct {
	NotFound     []string
	Found        []transport.Channel
	UserCantRead []ChannelMatch
	SelfCantRead []transport.Channel
}

// ReadableChannelsFrom resolves args like ChannelsFrom, then checks each
// resolved channel against two independent predicates: whether requesterID
// can read it and whether the bot (actorID) can. Every token ends up in
// exactly one of the four buckets.
func ReadableChannelsFrom(
	ctx context.Context,
	args string,
	channels map[int64]transport.Channel,
	requesterID, actorID int64,
	canRead ReadChecker,
) (ReadableChannels, error) {
	all := ChannelsFrom(args, channels)

	result := ReadableChannels{NotFound: all.NotFound}

	for _, match := range all.Found {
		userCanRead, err := canRead(ctx, match.Channel.ID, requesterID)
		if err != nil {
			return ReadableChannels{}, err
		}
		selfCanRead, err := canRead(ctx, match.Channel.ID, actorID)
		if err != nil {
			return ReadableChannels{}, err
		}

		switch {
		case !userCanRead:
			result.UserCantRead = append(result.UserCantRead, match)
		case !selfCanRead:
			result.SelfCantRead = append(result.SelfCantRead, match.Channel)
		default:
			result.Found = append(result.Found, match.Channel)
		}
	}

	return result, nil
}
