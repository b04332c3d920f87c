package tools

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL validates and canonicalizes a fetch URL: scheme required
// (http or https), host lowercased, and youtu.be short links rewritten
// to their youtube.com/watch equivalent.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is empty")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("url is not parseable: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("url must use http or https")
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url has no host")
	}

	parsed.Host = strings.ToLower(parsed.Host)

	if parsed.Host == "youtu.be" {
		id := strings.Trim(parsed.Path, "/")
		if id != "" {
			rewritten := &url.URL{
				Scheme:   parsed.Scheme,
				Host:     "youtube.com",
				Path:     "/watch",
				RawQuery: "v=" + url.QueryEscape(id),
			}
			return rewritten.String(), nil
		}
	}

	return parsed.String(), nil
}
