// Package schema fixes the version of every serialized artifact and
// migrates older payloads to the current shape before they are parsed.
package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/novella/pkg/vnerr"
)

const (
	// ScriptSchemaVersion is the current script JSON schema (major.minor).
	// Increment the minor for compatible additions, the major for breaking changes.
	ScriptSchemaVersion = "1.0"

	// ManifestSchemaVersion is the current project manifest schema.
	ManifestSchemaVersion = "1.0"

	// CompiledFormatVersion is the compiled script binary layout version.
	CompiledFormatVersion uint16 = 1

	// SaveFormatVersion is the save envelope and state encoding version.
	SaveFormatVersion uint16 = 1

	// ScriptVersionField is the top-level JSON key carrying the script schema version.
	ScriptVersionField = "script_schema_version"

	// ManifestVersionField is the top-level TOML key carrying the manifest schema version.
	ManifestVersionField = "manifest_schema_version"
)

// Magic bytes for compiled scripts ("VNSC") and save files ("VNSV").
var (
	ScriptBinaryMagic = [4]byte{'V', 'N', 'S', 'C'}
	SaveBinaryMagic   = [4]byte{'V', 'N', 'S', 'V'}
)

// ParseVersion splits a "major.minor" version string.
func ParseVersion(v string) (major, minor int, err error) {
	maj, mnr, ok := strings.Cut(v, ".")
	if !ok {
		return 0, 0, fmt.Errorf("version %q is not major.minor", v)
	}
	major, err = strconv.Atoi(maj)
	if err != nil {
		return 0, 0, fmt.Errorf("version %q: bad major: %w", v, err)
	}
	minor, err = strconv.Atoi(mnr)
	if err != nil {
		return 0, 0, fmt.Errorf("version %q: bad minor: %w", v, err)
	}
	return major, minor, nil
}

// Compatible reports whether a payload written at version v can be read by
// a loader at version current: same major, minor not newer.
func Compatible(v, current string) bool {
	maj, mnr, err := ParseVersion(v)
	if err != nil {
		return false
	}
	cmaj, cmin, err := ParseVersion(current)
	if err != nil {
		return false
	}
	return maj == cmaj && mnr <= cmin
}

// CheckScriptVersion validates the script_schema_version of a payload. A
// nil version means the field was absent.
func CheckScriptVersion(v *string) error {
	if v == nil {
		return vnerr.InvalidScript("schema required")
	}
	if !Compatible(*v, ScriptSchemaVersion) {
		return vnerr.InvalidScript("schema incompatible: got %s, want %s", *v, ScriptSchemaVersion)
	}
	return nil
}
