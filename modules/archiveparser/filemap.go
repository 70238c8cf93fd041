package archiveparser

import (
	"path"
	"regexp"
	"strings"

	"github.com/uplo-tech/graphvault/modules"
)

// relationFilePattern recognizes a relation export's base filename, with or
// without a numbered suffix (the way Instagram splits a large relation
// across followers_1.json, followers_2.json, ...) and with either a .json
// or .html extension.
var relationFilePattern = regexp.MustCompile(`^([a-z_]+?)(?:_\d+)?\.(json|html)$`)

// knownBaseNames maps a relation file's base name (before any numeric
// suffix, sans extension) to the badge it carries (spec.md §4.E
// discovery: "following, followers, pending follow requests, permanent
// follow requests, restricted, close friends, recently unfollowed,
// dismissed suggestions").
var knownBaseNames = map[string]modules.Badge{
	"following":                                 modules.BadgeFollowing,
	"followers":                                 modules.BadgeFollowers,
	"pending_follow_requests":                   modules.BadgePending,
	"permanent_follow_requests":                 modules.BadgePermanent,
	"restricted_profiles":                       modules.BadgeRestricted,
	"close_friends":                             modules.BadgeClose,
	"recently_unfollowed_accounts":               modules.BadgeUnfollowed,
	"recently_unfollowed_profiles":               modules.BadgeUnfollowed,
	"recommended_accounts_you_saw_less_often":    modules.BadgeDismissed,
	"removed_suggestions":                       modules.BadgeDismissed,
	"dismissed_suggestions":                     modules.BadgeDismissed,
}

// classify matches an archive entry path against the known relation
// filename table and reports the badge it maps to, the detected format, and
// whether the path was recognized at all.
func classify(entryPath string) (badge modules.Badge, format modules.ArchiveFormat, recognized bool) {
	base := strings.ToLower(path.Base(entryPath))
	m := relationFilePattern.FindStringSubmatch(base)
	if m == nil {
		return modules.BadgeUnknown, modules.FormatUnknown, false
	}
	b, ok := knownBaseNames[m[1]]
	if !ok {
		return modules.BadgeUnknown, modules.FormatUnknown, false
	}
	if m[2] == "html" {
		return b, modules.FormatHTML, true
	}
	return b, modules.FormatJSON, true
}
