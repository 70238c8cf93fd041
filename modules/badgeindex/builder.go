// Package badgeindex implements the badge index builder of spec.md §4.F: it
// combines the archive parser's per-badge username sets into the canonical,
// ordered Account sequence every downstream component (storage engine,
// search index builder, filter engine) positions its records against.
package badgeindex

import "github.com/uplo-tech/graphvault/modules"

// Builder implements modules.BadgeIndexBuilder.
type Builder struct{}

// New returns a ready-to-use Builder. Builder carries no state.
func New() *Builder {
	return &Builder{}
}

// Build applies the four badge-derivation rules of spec.md §4.F, in order,
// then sorts the result per the canonical ordering invariant of spec.md §3
// and §9 (lowercased username ascending, ties by insertion order).
func (b *Builder) Build(data modules.ParsedAll) []modules.Account {
	accounts := make(map[string]*modules.Account)
	var order []string

	accountFor := func(username string) *modules.Account {
		if a, ok := accounts[username]; ok {
			return a
		}
		a := &modules.Account{Username: username, Badges: make(map[modules.Badge]int64)}
		accounts[username] = a
		order = append(order, username)
		return a
	}

	// Rule 1: every username in a time-valued relation set receives that
	// badge, valued with its timestamp (or TimestampTrue if none).
	for _, badge := range modules.TimeValuedBadges() {
		for username, ts := range data[badge] {
			accountFor(username).Badges[badge] = ts
		}
	}

	following := data[modules.BadgeFollowing]
	followers := data[modules.BadgeFollowers]

	// Rule 2: Mutuals iff in both Following and Followers.
	for username := range following {
		if _, ok := followers[username]; ok {
			accountFor(username).Badges[modules.BadgeMutuals] = modules.TimestampTrue
		}
	}
	// Rule 3: NotFollowingBack iff in Followers but not Following.
	for username := range followers {
		if _, ok := following[username]; !ok {
			accountFor(username).Badges[modules.BadgeNotFollowingBack] = modules.TimestampTrue
		}
	}
	// Rule 4: NotFollowedBack iff in Following but not Followers.
	for username := range following {
		if _, ok := followers[username]; !ok {
			accountFor(username).Badges[modules.BadgeNotFollowedBack] = modules.TimestampTrue
		}
	}

	out := make([]modules.Account, 0, len(order))
	for _, username := range order {
		out = append(out, *accounts[username])
	}
	modules.SortAccounts(out)
	return out
}
