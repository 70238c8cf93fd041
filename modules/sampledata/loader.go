// Package sampledata loads the bundled demo snapshot of spec.md §6: a
// static JSON resource shaped `{version: 1, generatedAt, accountCount,
// accounts: Account[]}`, consumed at startup to populate the well-known
// demo fingerprint modules.SampleDemoFingerprint without running the
// archive parser at all.
//
// Decoding uses github.com/goccy/go-json, the same JSON library
// archiveparser reaches for, rather than encoding/json, keeping JSON
// handling uniform across the module.
package sampledata

import (
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/uplo-tech/errors"

	"github.com/uplo-tech/graphvault/modules"
)

// SupportedVersion is the only snapshot version this loader accepts
// (spec.md §6 "{version: 1, ...}").
const SupportedVersion = 1

// ErrUnsupportedVersion is returned when the snapshot's version field isn't
// SupportedVersion.
var ErrUnsupportedVersion = errors.New("sampledata: unsupported snapshot version")

// rawSnapshot mirrors the on-disk JSON shape of spec.md §6.
type rawSnapshot struct {
	Version      int          `json:"version"`
	GeneratedAt  string       `json:"generatedAt"`
	AccountCount int          `json:"accountCount"`
	Accounts     []rawAccount `json:"accounts"`
}

type rawAccount struct {
	Username string                     `json:"username"`
	Badges   map[string]json.RawMessage `json:"badges"`
}

// Result is what Load reports about the snapshot it just stored.
type Result struct {
	GeneratedAt  time.Time
	AccountCount int
}

// Load parses snapshot, converts it into the canonical Account sequence,
// and persists it under modules.SampleDemoFingerprint via storage — no
// archive parsing, fingerprinting, or badge derivation runs; the snapshot
// is trusted to already carry the full, consistent badge set (including
// the computed Mutuals/NotFollowingBack/NotFollowedBack badges) spec.md
// §4.F would otherwise derive.
func Load(snapshot []byte, storage modules.StorageEngine) (Result, error) {
	var raw rawSnapshot
	if err := json.Unmarshal(snapshot, &raw); err != nil {
		return Result{}, errors.AddContext(err, "sampledata: malformed snapshot")
	}
	if raw.Version != SupportedVersion {
		return Result{}, errors.AddContext(ErrUnsupportedVersion, "sampledata: got version "+strconv.Itoa(raw.Version))
	}

	generatedAt, err := time.Parse(time.RFC3339, raw.GeneratedAt)
	if err != nil {
		return Result{}, errors.AddContext(err, "sampledata: malformed generatedAt")
	}

	accounts := make([]modules.Account, 0, len(raw.Accounts))
	for _, ra := range raw.Accounts {
		badges := make(map[modules.Badge]int64, len(ra.Badges))
		for name, val := range ra.Badges {
			badge, ok := badgeFromName(name)
			if !ok {
				continue
			}
			badges[badge] = decodeBadgeValue(val)
		}
		accounts = append(accounts, modules.Account{Username: ra.Username, Badges: badges})
	}
	modules.SortAccounts(accounts)

	if err := storage.StoreAll(modules.SampleDemoFingerprint, "sample-demo-data-v1.json", int64(len(snapshot)), accounts); err != nil {
		return Result{}, errors.AddContext(err, "sampledata: unable to store snapshot")
	}

	return Result{GeneratedAt: generatedAt, AccountCount: len(accounts)}, nil
}

// decodeBadgeValue accepts either a numeric Unix-seconds timestamp or the
// JSON literal true, mapping the latter (and anything else unparseable) to
// modules.TimestampTrue.
func decodeBadgeValue(raw json.RawMessage) int64 {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return modules.TimestampTrue
}

// badgeFromName reverses modules.Badge.String for every storable badge.
func badgeFromName(name string) (modules.Badge, bool) {
	for _, b := range modules.AllBadges() {
		if b.String() == name {
			return b, true
		}
	}
	return 0, false
}
