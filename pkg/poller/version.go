package poller

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// VersionFromTag derives the major.minor runtime version of an upstream
// tag. A "repo:" prefix is ignored, so "node-10.14:10.14.1" gives "10.14"
// and "7.3.6-apache" gives "7.3".
func VersionFromTag(tag string) (string, error) {
	if i := strings.LastIndex(tag, ":"); i >= 0 {
		tag = tag[i+1:]
	}
	v, err := semver.NewVersion(tag)
	if err != nil {
		return "", fmt.Errorf("tag %q has no version: %w", tag, err)
	}
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor()), nil
}
