package discovery

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"asset-harvester/internal/model"
)

// Seed is a user supplied starting reference.
type Seed struct {
	Raw  string
	Kind model.Kind

	// URL is set for web seeds.
	URL *url.URL
	// FolderRef is the Drive folder id or the s3://bucket/prefix reference.
	FolderRef string
}

var driveFolderPattern = regexp.MustCompile(`/folders/([a-zA-Z0-9_-]+)`)

func ParseSeed(raw string) (Seed, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return Seed{}, model.Wrap(model.ErrConfig, raw, fmt.Errorf("empty seed"))
	}
	if strings.HasPrefix(ref, "s3://") {
		u, err := url.Parse(ref)
		if err != nil || u.Host == "" {
			return Seed{}, model.Wrap(model.ErrConfig, raw, fmt.Errorf("invalid s3 seed, expected s3://bucket/prefix"))
		}
		return Seed{Raw: ref, Kind: model.KindS3, FolderRef: ref}, nil
	}

	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Seed{}, model.Wrap(model.ErrConfig, raw, fmt.Errorf("unsupported seed, expected http(s) or s3:// URL"))
	}
	if strings.EqualFold(u.Hostname(), "drive.google.com") {
		m := driveFolderPattern.FindStringSubmatch(u.Path)
		if len(m) < 2 {
			return Seed{}, model.Wrap(model.ErrConfig, raw, fmt.Errorf("google drive seed must be a folder URL"))
		}
		return Seed{Raw: ref, Kind: model.KindDrive, FolderRef: m[1]}, nil
	}
	return Seed{Raw: ref, Kind: model.KindWeb, URL: u}, nil
}
