package yt

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	videoIDRegex   = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	videoPathRegex = regexp.MustCompile(`^/(?:shorts|embed|v)/([A-Za-z0-9_-]{11})(?:/|$)`)
)

// ParseVideoID resolves a watch URL, share URL, shorts/embed URL or bare id to
// the canonical video id. ok is false when the reference is not resolvable.
func ParseVideoID(ref string) (id string, ok bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if videoIDRegex.MatchString(ref) {
		return ref, true
	}

	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}

	switch strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") {
	case "youtube.com", "m.youtube.com":
		if u.Path == "/watch" {
			v := u.Query().Get("v")
			return v, v != ""
		}
		if m := videoPathRegex.FindStringSubmatch(u.Path); m != nil {
			return m[1], true
		}
	case "youtu.be":
		seg := strings.TrimPrefix(u.Path, "/")
		if videoIDRegex.MatchString(seg) {
			return seg, true
		}
	}
	return "", false
}
