package discovery

import (
	"net/url"
	"path"
	"slices"
	"strings"
)

// DefaultExtensions is the downloadable-asset allow-list.
var DefaultExtensions = []string{
	"pdf", "doc", "docx", "xls", "xlsx", "zip", "txt", "jpg", "png", "csv",
	"mp4", "mov", "avi", "wmv", "wav", "mp3", "m4a",
}

var DefaultExcludePatterns = []string{"/search"}

// AssetPolicy decides which links are assets and which pages are followed.
//
// A link is an asset when its path extension is in Extensions (case
// insensitive) or when the anchor carries a download attribute. Links that
// contain any ExcludePatterns substring are ignored, as are fragment-only,
// mailto: and javascript: links. Everything else is a candidate page.
type AssetPolicy struct {
	Extensions      []string
	ExcludePatterns []string
}

func DefaultAssetPolicy() AssetPolicy {
	return AssetPolicy{
		Extensions:      slices.Clone(DefaultExtensions),
		ExcludePatterns: slices.Clone(DefaultExcludePatterns),
	}
}

func (p AssetPolicy) normalized() AssetPolicy {
	out := AssetPolicy{}
	for _, ext := range p.Extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" && !slices.Contains(out.Extensions, ext) {
			out.Extensions = append(out.Extensions, ext)
		}
	}
	if len(out.Extensions) == 0 {
		out.Extensions = slices.Clone(DefaultExtensions)
	}
	for _, pat := range p.ExcludePatterns {
		if pat = strings.TrimSpace(pat); pat != "" {
			out.ExcludePatterns = append(out.ExcludePatterns, pat)
		}
	}
	return out
}

// Ignored reports hrefs that are neither assets nor pages.
func (p AssetPolicy) Ignored(href string) bool {
	ref := strings.TrimSpace(href)
	lower := strings.ToLower(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return true
	}
	for _, scheme := range []string{"mailto:", "javascript:", "tel:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// Excluded reports absolute URLs matching an exclude pattern.
func (p AssetPolicy) Excluded(absURL string) bool {
	for _, pat := range p.ExcludePatterns {
		if strings.Contains(absURL, pat) {
			return true
		}
	}
	return false
}

// IsAsset reports whether u points at a downloadable file.
func (p AssetPolicy) IsAsset(u *url.URL, hasDownloadAttr bool) bool {
	if hasDownloadAttr {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if ext == "" {
		return false
	}
	return slices.Contains(p.Extensions, ext)
}
