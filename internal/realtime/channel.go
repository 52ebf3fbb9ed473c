package realtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Channel names are computed independently by both ends, so they must be
// bit-exact. Direct channels sort the participant ids; group channels carry
// the group id; deletion notices use a channel of their own so members are
// reachable even when they never joined the message channel.
const (
	PresenceChannel = "online"

	directPrefix       = "message.user."
	groupPrefix        = "message.group."
	groupDeletedPrefix = "group.deleted."
)

func DirectChannel(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s%d-%d", directPrefix, a, b)
}

func GroupChannel(groupID int64) string {
	return fmt.Sprintf("%s%d", groupPrefix, groupID)
}

func GroupDeletedChannel(groupID int64) string {
	return fmt.Sprintf("%s%d", groupDeletedPrefix, groupID)
}

// Membership answers whether a user belongs to a group; the ledger
// repository provides it.
type Membership interface {
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
}

// CanSubscribe applies private/presence channel semantics: direct channels
// admit only the two participants, group channels only members, and the
// presence channel any authenticated principal.
func CanSubscribe(ctx context.Context, m Membership, userID int64, channel string) (bool, error) {
	switch {
	case channel == PresenceChannel:
		return true, nil

	case strings.HasPrefix(channel, directPrefix):
		pair := strings.SplitN(strings.TrimPrefix(channel, directPrefix), "-", 2)
		if len(pair) != 2 {
			return false, nil
		}
		a, errA := strconv.ParseInt(pair[0], 10, 64)
		b, errB := strconv.ParseInt(pair[1], 10, 64)
		if errA != nil || errB != nil || a >= b {
			return false, nil
		}
		return userID == a || userID == b, nil

	case strings.HasPrefix(channel, groupPrefix):
		return memberOf(ctx, m, strings.TrimPrefix(channel, groupPrefix), userID)

	case strings.HasPrefix(channel, groupDeletedPrefix):
		return memberOf(ctx, m, strings.TrimPrefix(channel, groupDeletedPrefix), userID)
	}
	return false, nil
}

func memberOf(ctx context.Context, m Membership, rawGroupID string, userID int64) (bool, error) {
	groupID, err := strconv.ParseInt(rawGroupID, 10, 64)
	if err != nil {
		return false, nil
	}
	return m.IsMember(ctx, groupID, userID)
}
