package resolve

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"keywatch/internal/transport"
)

var userToken = regexp.MustCompile(`^(?:([0-9]{16,20})|<@!?([0-9]{16,20})>)$`)

// UserFetcher looks a user up by ID, typically against the gateway.
type UserFetcher func(ctx context.Context, userID int64) (transport.User, error)

// UsersFromArgs partitions argument tokens into fetched users, IDs that
// look valid but fetch nothing, and tokens that are not user references
// at all.
type UsersFromArgs struct {
	Found    []transport.User
	NotFound []int64
	Invalid  []string
}

// UsersFrom resolves each whitespace-separated token of args as a user:
// either a bare numeric ID or a <@id> / <@!id> mention.
func UsersFrom(ctx context.Context, args string, fetch UserFetcher) UsersFromArgs {
	var out UsersFromArgs
	for _, arg := range strings.Fields(args) {
		m := userToken.FindStringSubmatch(arg)
		if m == nil {
			out.Invalid = append(out.Invalid, arg)
			continue
		}
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			out.Invalid = append(out.Invalid, arg)
			continue
		}

		u, err := fetch(ctx, id)
		if err != nil {
			out.NotFound = append(out.NotFound, id)
			continue
		}
		out.Found = append(out.Found, u)
	}
	return out
}
