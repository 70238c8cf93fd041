package build

// Package build holds the compile-time switches the rest of the module
// reads to pick environment-appropriate defaults, the same role the
// teacher's build package plays for the daemon it configures (DEBUG-gated
// invariant checks, Release-tagged logging, per-build-tag constant
// selection via Select/Var).

// Version is the module's semantic version string, surfaced in log output.
const Version = "0.1.0"

// IssuesURL is where a user hitting a logged bug report should file it.
const IssuesURL = "https://github.com/uplo-tech/graphvault/issues"

// Release names which of the three supported build tags is active:
// "standard" (production), "dev", or "testing". It is var, not const, so
// that test binaries built with the "testing" tag can flip it in an init().
var Release = "standard"

// DEBUG gates invariant assertions that should never fail in production but
// are cheap enough to check in development and test builds (see
// modules/consensus/consensusdb.go in the teacher: "if build.DEBUG && err
// != nil { panic(err) }"). Production builds tolerate the violation
// silently rather than crash a user's session over a defensive check.
var DEBUG = false

// Var holds one constant's three build-tag-specific values for Select.
type Var struct {
	Standard interface{}
	Dev      interface{}
	Testing  interface{}
}

// Select returns the Var field matching the active Release tag, defaulting
// to Standard for an unrecognized tag.
func Select(v Var) interface{} {
	switch Release {
	case "dev":
		return v.Dev
	case "testing":
		return v.Testing
	default:
		return v.Standard
	}
}

func init() {
	if Release == "dev" || Release == "testing" {
		DEBUG = true
	}
}
