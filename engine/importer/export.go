// Package importer drives the batch entry points into the archive:
// markdown-export bulk imports, the one-time file-to-database migration,
// and the image-description backfill.
package importer

import (
	"fmt"
	"os"
	"regexp"

	"github.com/hexalog/xarchive/engine/fetcher"
	"github.com/hexalog/xarchive/pkg/fn"
)

// mdLinkPattern matches markdown links and captures their targets.
var mdLinkPattern = regexp.MustCompile(`\[[^\]]*\]\((https?://[^\)]+)\)`)

// bareURLPattern matches bare status URLs on any of the known hosts.
var bareURLPattern = regexp.MustCompile(
	`https?://(?:www\.)?(?:twitter\.com|x\.com|fxtwitter\.com|vxtwitter\.com|fixupx\.com)/\w+/status/\d+`)

// ExtractURLs pulls status URLs out of markdown content, both from
// markdown links and bare text, normalized to canonical x.com form.
// Link targets are removed before the bare scan so they aren't counted
// twice. Duplicates across lines are kept.
func ExtractURLs(content string) []string {
	var candidates []string
	for _, m := range mdLinkPattern.FindAllStringSubmatch(content, -1) {
		candidates = append(candidates, m[1])
	}
	stripped := mdLinkPattern.ReplaceAllString(content, "")
	candidates = append(candidates, bareURLPattern.FindAllString(stripped, -1)...)

	return fn.FilterMap(candidates, func(u string) (string, bool) {
		if fetcher.ExtractPostID(u) == "" {
			return "", false
		}
		return fetcher.NormalizeURL(u), true
	})
}

// ParseExportFile reads a markdown export and returns its status URLs,
// deduplicated with first-appearance order preserved.
func ParseExportFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("importer: read export %s: %w", path, err)
	}

	return fn.Unique(ExtractURLs(string(raw))), nil
}
