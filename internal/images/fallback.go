// Package images resolves which picture a goal should display: the generated
// image once it is reachable, or a preset fallback chosen from the title.
package images

import (
	"net/url"
	"strings"
	"unicode/utf16"
)

// Presets are the static fallback images shipped with the app.
var Presets = []string{
	"/static/goals/savings-jar.jpg",
	"/static/goals/house-keys.jpg",
	"/static/goals/travel-map.jpg",
	"/static/goals/graduation.jpg",
	"/static/goals/piggy-bank.jpg",
	"/static/goals/mountain-path.jpg",
	"/static/goals/sunrise-city.jpg",
	"/static/goals/growth-chart.jpg",
}

// DefaultGeneratedMarker is the path segment generated images are stored
// under.
const DefaultGeneratedMarker = "goal-images/"

var generatedMarker = DefaultGeneratedMarker

// SetGeneratedMarker changes the substring used by IsGenerated. Empty input
// restores the default.
func SetGeneratedMarker(marker string) {
	if marker == "" {
		marker = DefaultGeneratedMarker
	}
	generatedMarker = marker
}

func GeneratedMarker() string { return generatedMarker }

// FallbackIndex hashes the title's UTF-16 code units with a 32-bit
// polynomial rolling hash (h = h*31 + c) and reduces it modulo the preset
// count. The empty title maps to 0.
func FallbackIndex(title string) int {
	var h int32
	for _, c := range utf16.Encode([]rune(title)) {
		h = h*31 + int32(c)
	}
	n := int64(h)
	if n < 0 {
		n = -n
	}
	return int(n % int64(len(Presets)))
}

func ResolveFallbackImage(title string) string {
	return Presets[FallbackIndex(title)]
}

// IsLocalAsset reports whether u points at an asset served by this app,
// which never needs a reachability check.
func IsLocalAsset(u string) bool {
	if u == "" {
		return false
	}
	if strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//") {
		return true
	}
	return strings.Contains(u, "/static/") || strings.Contains(u, "/uploads/")
}

// IsGenerated reports whether u is an output of the image generator.
func IsGenerated(u string) bool {
	return u != "" && strings.Contains(u, generatedMarker)
}

// CacheBust sets the v query parameter of u to token. Unparseable URLs are
// returned unchanged.
func CacheBust(u, token string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	q := parsed.Query()
	q.Set("v", token)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

// StripCacheBust removes the v query parameter so URLs can be compared.
func StripCacheBust(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	q := parsed.Query()
	if !q.Has("v") {
		return u
	}
	q.Del("v")
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
