package modules

import "sort"

// Badge identifies a relation flag that can be attached to an Account. Some
// badges carry a timestamp taken directly from the export; the rest are
// computed from set membership once every relation file has been parsed.
type Badge uint8

// The badge enumeration. Time-valued badges carry the Unix-seconds timestamp
// of the relation event; boolean badges are derived, and their "timestamp"
// slot is always the sentinel value TimestampTrue.
const (
	BadgeFollowing Badge = iota
	BadgeFollowers
	BadgePending
	BadgePermanent
	BadgeRestricted
	BadgeClose
	BadgeUnfollowed
	BadgeDismissed

	// Computed booleans. Order after the time-valued badges matters: the
	// storage engine iterates badges in enum order (modules.AllBadges) when
	// allocating bitsets.
	BadgeMutuals
	BadgeNotFollowingBack
	BadgeNotFollowedBack

	// BadgeUnknown is never stored in the fixed bitset enumeration. The
	// archive parser's classify returns it for an entry whose basename isn't
	// recognized, and the parser then skips that entry: it produces no
	// badges and no warning, and the parse does not fail.
	BadgeUnknown
)

// TimestampTrue is the sentinel timestamp value used for badges that were
// observed with no associated timestamp, and for boolean badges, which have
// no timestamp at all. Storage and display code treat TimestampTrue as
// "present", never as a real instant.
const TimestampTrue int64 = -1

// timeValuedBadges lists, in enum order, the badges produced directly from a
// relation file (as opposed to derived by badgeindex from set membership).
var timeValuedBadges = []Badge{
	BadgeFollowing,
	BadgeFollowers,
	BadgePending,
	BadgePermanent,
	BadgeRestricted,
	BadgeClose,
	BadgeUnfollowed,
	BadgeDismissed,
}

// TimeValuedBadges returns the fixed, enum-ordered slice of badges that are
// populated directly from parsed relation files.
func TimeValuedBadges() []Badge {
	out := make([]Badge, len(timeValuedBadges))
	copy(out, timeValuedBadges)
	return out
}

// computedBadges lists, in enum order, the badges derived from set
// membership by badgeindex after all relation files are parsed.
var computedBadges = []Badge{
	BadgeMutuals,
	BadgeNotFollowingBack,
	BadgeNotFollowedBack,
}

// ComputedBadges returns the fixed, enum-ordered slice of derived badges.
func ComputedBadges() []Badge {
	out := make([]Badge, len(computedBadges))
	copy(out, computedBadges)
	return out
}

// AllBadges returns every storable badge (time-valued, then computed) in the
// canonical order used by the storage engine to allocate bitsets and by
// getAccountsByRange to reconstruct an Account's badge set. BadgeUnknown is
// intentionally excluded — it has no fixed bitset slot.
func AllBadges() []Badge {
	all := make([]Badge, 0, len(timeValuedBadges)+len(computedBadges))
	all = append(all, timeValuedBadges...)
	all = append(all, computedBadges...)
	return all
}

// String gives the wire/display name of a badge, matching the names used in
// spec.md §3; kvstore.BitsetKey and the sample-data loader key badges by it.
func (b Badge) String() string {
	switch b {
	case BadgeFollowing:
		return "Following"
	case BadgeFollowers:
		return "Followers"
	case BadgePending:
		return "Pending"
	case BadgePermanent:
		return "Permanent"
	case BadgeRestricted:
		return "Restricted"
	case BadgeClose:
		return "Close"
	case BadgeUnfollowed:
		return "Unfollowed"
	case BadgeDismissed:
		return "Dismissed"
	case BadgeMutuals:
		return "Mutuals"
	case BadgeNotFollowingBack:
		return "NotFollowingBack"
	case BadgeNotFollowedBack:
		return "NotFollowedBack"
	case BadgeUnknown:
		return "Unknown"
	default:
		return "Invalid"
	}
}

// Account is a single row of the canonical, per-fingerprint account
// sequence: a username and the badges it carries. Badges is keyed by Badge
// and valued by either a Unix-seconds timestamp (time-valued badges) or
// TimestampTrue (computed badges, or a time-valued badge that had none).
type Account struct {
	Username string
	Badges   map[Badge]int64
}

// HasBadge reports whether the account carries the given badge.
func (a Account) HasBadge(b Badge) bool {
	_, ok := a.Badges[b]
	return ok
}

// SortAccounts orders accounts per the canonical ordering invariant (spec.md
// §4.F, §9): lowercased username ascending, ties broken by original
// insertion order. Sort is stable so ties keep their relative input order.
func SortAccounts(accounts []Account) {
	sort.SliceStable(accounts, func(i, j int) bool {
		return lowerUsername(accounts[i].Username) < lowerUsername(accounts[j].Username)
	})
}

func lowerUsername(u string) string {
	// ASCII lower suffices: Instagram usernames are restricted to
	// [a-z0-9._], but display-imported sample data may carry arbitrary
	// case, never non-ASCII letters that need Unicode case folding.
	b := []byte(u)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// LowerUsername exports the canonical lowercasing rule used for ordering,
// search, and bitset/index keys, so every package applies it identically.
func LowerUsername(u string) string {
	return lowerUsername(u)
}
