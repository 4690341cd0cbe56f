package sealswap

import (
	"fmt"
	"strings"
)

// Commit stores the current commit of this build, which includes the most
// recent tag, the number of commits since that tag (if non-zero), the commit
// hash, and a dirty marker. This should be set using the -ldflags during
// compilation.
var Commit string

// versionFieldsAlphabet is the set of characters that are permitted for use
// in a version string field.
const versionFieldsAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// These constants define the application version and follow the semantic
// versioning 2.0.0 spec (http://semver.org/).
const (
	// AppMajor defines the major version of this binary.
	AppMajor uint = 0

	// AppMinor defines the minor version of this binary.
	AppMinor uint = 1

	// AppPatch defines the application patch for this binary.
	AppPatch uint = 0

	// AppPreRelease defines the pre-release version of this binary. It
	// MUST only contain characters from the semantic versioning spec.
	AppPreRelease = "alpha"
)

// Version returns the application version as a properly formed string per
// the semantic versioning 2.0.0 spec (http://semver.org/).
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", AppMajor, AppMinor, AppPatch)

	if AppPreRelease != "" {
		version = fmt.Sprintf(
			"%s-%s", version, normalizeVersionField(AppPreRelease),
		)
	}

	return version
}

// normalizeVersionField returns the passed field stripped of all characters
// which are not valid according to the semantic versioning guidelines for
// version fields.
func normalizeVersionField(field string) string {
	var result strings.Builder
	for _, r := range field {
		if strings.ContainsRune(versionFieldsAlphabet, r) {
			result.WriteRune(r)
		}
	}

	return result.String()
}
