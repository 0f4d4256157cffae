// Package video handles YouTube video identifiers.
package video

import (
	"net/url"
	"strings"
)

// NormalizeID reduces a watch URL, a youtu.be short link or an id carrying
// query fragments (e.g. "aircAruvnKk&t=10s") to the bare video id.
func NormalizeID(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		if u, err := url.Parse(s); err == nil {
			if v := u.Query().Get("v"); v != "" {
				return v
			}
			if strings.HasSuffix(u.Host, "youtu.be") && u.Path != "" {
				return strings.TrimLeft(u.Path, "/")
			}
		}
	}

	s, _, _ = strings.Cut(s, "&")
	s, _, _ = strings.Cut(s, "?")
	return s
}
