package buildrequest

import (
	"fmt"
	"strings"
)

var (
	phpVersions    = []string{"5.6", "7.0", "7.2", "7.3"}
	pythonVersions = []string{"2.7", "3.6", "3.7"}
)

// TemplateName returns the template subfolder for a stack version. It is the only place
// version compatibility is enforced.
func TemplateName(stack Stack, version string) (string, error) {
	switch stack {
	case StackDotnetcore:
		if strings.HasPrefix(version, "1") {
			return "debian-8", nil
		}
		return "debian-9", nil
	case StackNode:
		return "debian-9", nil
	case StackPHP:
		if contains(phpVersions, version) {
			return fmt.Sprintf("template-%s-apache", version), nil
		}
		return "", &UnsupportedVersionError{Stack: stack, Version: version}
	case StackPython:
		if contains(pythonVersions, version) {
			return fmt.Sprintf("template-%s", version), nil
		}
		return "", &UnsupportedVersionError{Stack: stack, Version: version}
	case StackRuby:
		return "templates", nil
	case StackKudu:
		return "kudu", nil
	}
	return "", &UnsupportedStackError{Stack: string(stack)}
}

// DefaultTries is the retry budget applied when a request does not set one.
func DefaultTries(stack Stack) int {
	switch stack {
	case StackPHP, StackKudu:
		return 1
	}
	return 3
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
