package fetcher

import "regexp"

// Known URL shapes: the canonical domain plus the two mirror-proxy domains.
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:twitter|x)\.com/\w+/status/(\d+)`),
	regexp.MustCompile(`(?:twitter|x)\.com/i/web/status/(\d+)`),
	regexp.MustCompile(`(?:fxtwitter|vxtwitter|fixupx)\.com/\w+/status/(\d+)`),
}

var handlePattern = regexp.MustCompile(`(?:twitter|x|fxtwitter|vxtwitter)\.com/(\w+)/status/`)

var statusURLPattern = regexp.MustCompile(
	`https?://(?:www\.)?(?:twitter\.com|x\.com|fxtwitter\.com|vxtwitter\.com|fixupx\.com)/(\w+)/status/(\d+)`)

// Reserved path segments that are not real handles.
var reservedHandles = map[string]bool{"i": true, "intent": true, "share": true}

// ExtractPostID returns the numeric status id embedded in url, or "".
func ExtractPostID(url string) string {
	for _, p := range idPatterns {
		if m := p.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}

// ExtractHandle returns the author handle embedded in url, or "" when
// the path segment is a reserved word rather than a handle.
func ExtractHandle(url string) string {
	m := handlePattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	if reservedHandles[m[1]] {
		return ""
	}
	return m[1]
}

// FindStatusURL returns the first status URL found in free text, or "".
func FindStatusURL(text string) string {
	return statusURLPattern.FindString(text)
}

// NormalizeURL rewrites mirror-domain status URLs to the canonical
// x.com form. Non-status URLs are returned unchanged.
func NormalizeURL(url string) string {
	m := statusURLPattern.FindStringSubmatch(url)
	if m == nil {
		return url
	}
	return "https://x.com/" + m[1] + "/status/" + m[2]
}
