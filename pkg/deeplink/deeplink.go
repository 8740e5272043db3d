// Package deeplink extracts item identifiers from the payloads carried
// by QR codes and deep links. Scanners hand us whatever string was
// encoded, which over time has been a bare identifier, a URL with an
// item_id query parameter, a URL with the legacy item parameter, or the
// legacy memotag://product/<id> path form. All forms must resolve to the
// same identifier.
package deeplink

import (
	"net/url"
	"strings"
)

// ExtractItemID returns the item identifier carried by raw.
//
// Recognized forms, in order of precedence:
//   - any URL with an item_id query parameter
//   - any URL with the legacy item query parameter
//   - the legacy path form scheme://product/<id> (or a /product/<id>
//     path segment on an http URL)
//
// If no URL pattern matches, the whole trimmed input is treated as the
// identifier. The empty string is returned only for empty input.
func ExtractItemID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return s
	}

	q := u.Query()
	if id := strings.TrimSpace(q.Get("item_id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(q.Get("item")); id != "" {
		return id
	}

	// Legacy path form: the custom scheme parses "product" as the host.
	if u.Host == "product" {
		if id := strings.Trim(u.Path, "/"); id != "" {
			return id
		}
	}
	if rest, ok := cutAfter(u.Path, "/product/"); ok {
		if id := strings.Trim(rest, "/"); id != "" {
			return id
		}
	}

	return s
}

func cutAfter(s, sep string) (string, bool) {
	i := strings.Index(s, sep)
	if i < 0 {
		return "", false
	}
	return s[i+len(sep):], true
}
