package discovery

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"asset-harvester/internal/model"
)

const DefaultMaxDepth = 3

// Page is a fetched (and possibly script-rendered) document.
type Page struct {
	// URL is the final URL after redirects; empty means the requested URL.
	URL   string
	HTML  string
	Links []Link
}

type Link struct {
	Href     string
	Download bool
}

// PageFetcher returns the rendered content of a page.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (Page, error)
}

// RenderedStrategy walks same-origin pages breadth first starting at a web
// seed and emits every asset link it finds.
type RenderedStrategy struct {
	Fetcher         PageFetcher
	Policy          AssetPolicy
	MaxDepth        int
	AllowedPrefixes []string
	Logger          zerolog.Logger
}

type pageNode struct {
	url   string
	depth int
}

func (r *RenderedStrategy) Discover(ctx context.Context, seed Seed, emit func(model.Item) error) error {
	if seed.URL == nil {
		return fmt.Errorf("seed %s is not a web page", seed.Raw)
	}
	policy := r.Policy.normalized()
	maxDepth := r.MaxDepth
	if maxDepth < 0 {
		maxDepth = 0
	}
	scope := seedScope(seed.URL)

	visited := map[string]bool{model.NormalizeRef(seed.URL.String()): true}
	assets := make(map[string]bool)
	queue := []pageNode{{url: seed.URL.String(), depth: 0}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		node := queue[0]
		queue = queue[1:]

		page, err := r.Fetcher.Fetch(ctx, node.url)
		if err != nil {
			if node.depth == 0 {
				return fmt.Errorf("fetch seed page %s: %w", node.url, err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.Logger.Warn().Err(err).Str("page", node.url).Msg("skipping page")
			continue
		}

		base, links, err := pageLinks(node.url, page)
		if err != nil {
			if node.depth == 0 {
				return fmt.Errorf("parse seed page %s: %w", node.url, err)
			}
			r.Logger.Warn().Err(err).Str("page", node.url).Msg("skipping unparsable page")
			continue
		}
		r.Logger.Debug().Str("page", node.url).Int("depth", node.depth).Int("links", len(links)).Msg("page fetched")

		for _, l := range links {
			if policy.Ignored(l.Href) {
				continue
			}
			ref, err := url.Parse(strings.TrimSpace(l.Href))
			if err != nil {
				continue
			}
			abs := base.ResolveReference(ref)
			abs.Fragment = ""
			abs.RawFragment = ""
			if abs.Scheme != "http" && abs.Scheme != "https" {
				continue
			}
			absURL := abs.String()
			if policy.Excluded(absURL) {
				continue
			}
			key := model.NormalizeRef(absURL)

			if policy.IsAsset(abs, l.Download) {
				if assets[key] {
					continue
				}
				assets[key] = true
				if err := emit(webItem(abs, seed.Raw)); err != nil {
					return err
				}
				continue
			}

			if node.depth+1 > maxDepth || visited[key] || !r.inScope(scope, abs) {
				continue
			}
			visited[key] = true
			queue = append(queue, pageNode{url: absURL, depth: node.depth + 1})
		}
	}
	return nil
}

func webItem(u *url.URL, seed string) model.Item {
	src := u.String()
	dest := model.SanitizeDestPath(strings.ToLower(u.Host) + "/" + u.Path)
	if u.RawQuery != "" {
		// report.pdf?v=1 and report.pdf?v=2 are different files
		dest = model.DisambiguateDest(dest, src)
	}
	return model.Item{
		ID:        model.ItemID(src, dest),
		SourceRef: src,
		DestPath:  dest,
		Seed:      seed,
		Kind:      model.KindWeb,
	}
}

// seedScope is the seed URL reduced to the directory that bounds recursion.
func seedScope(u *url.URL) *url.URL {
	scope := *u
	p := scope.Path
	if strings.Contains(path.Base(p), ".") {
		p = path.Dir(p)
	}
	p = strings.TrimRight(p, "/")
	scope.Path = p
	scope.RawPath = ""
	scope.RawQuery = ""
	scope.Fragment = ""
	return &scope
}

func (r *RenderedStrategy) inScope(scope, u *url.URL) bool {
	if !strings.EqualFold(scope.Scheme, u.Scheme) || !strings.EqualFold(scope.Host, u.Host) {
		return false
	}
	if scope.Path == "" || u.Path == scope.Path || strings.HasPrefix(u.Path, scope.Path+"/") {
		return true
	}
	abs := u.String()
	for _, prefix := range r.AllowedPrefixes {
		if prefix = strings.TrimSpace(prefix); prefix != "" && strings.HasPrefix(abs, prefix) {
			return true
		}
	}
	return false
}

// pageLinks returns the base URL for resolving hrefs and every anchor on the page.
func pageLinks(requested string, page Page) (*url.URL, []Link, error) {
	baseRaw := requested
	if page.URL != "" {
		baseRaw = page.URL
	}
	base, err := url.Parse(baseRaw)
	if err != nil {
		return nil, nil, fmt.Errorf("parse page URL: %w", err)
	}

	links := append([]Link(nil), page.Links...)
	if strings.TrimSpace(page.HTML) == "" {
		return base, links, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, nil, fmt.Errorf("parse HTML: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		_, download := s.Attr("download")
		links = append(links, Link{Href: href, Download: download})
	})
	return base, links, nil
}
