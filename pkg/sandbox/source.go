package sandbox

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

type SourceKind string

const (
	SourceNPX SourceKind = "npx"
	SourceURL SourceKind = "url"
)

var ErrInvalidSource = errors.New("invalid plugin source")

// npm package reference: optional @scope/, name, optional @version.
var npxPackage = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._~-]*/)?[a-z0-9][a-z0-9._~-]*(@[A-Za-z0-9._~^<>=*-]+)?$`)

// ClassifySource decides how a plugin source is loaded.
func ClassifySource(source string) (SourceKind, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", fmt.Errorf("%w: empty source", ErrInvalidSource)
	}

	lower := strings.ToLower(source)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		u, err := url.Parse(source)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidSource, source)
		}

		return SourceURL, nil
	}

	if strings.Contains(source, "://") {
		return "", fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidSource, source)
	}

	if !npxPackage.MatchString(source) {
		return "", fmt.Errorf("%w: %q is not a package reference", ErrInvalidSource, source)
	}

	return SourceNPX, nil
}
