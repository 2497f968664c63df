package model

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// ItemID derives the dedup key from the normalized source reference and the
// destination path. It is stable across runs and discovery order.
func ItemID(sourceRef, destPath string) string {
	sum := sha256.Sum256([]byte(NormalizeRef(sourceRef) + "\n" + destPath))
	return hex.EncodeToString(sum[:16])
}

func NormalizeRef(raw string) string {
	ref := strings.TrimSpace(raw)
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ref
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path != "/" {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String()
}

var unsafeChars = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", "\"", "_", "\\", "_", "|", "_", "?", "_", "*", "_",
)

// SanitizeDestPath turns an arbitrary slash separated path into a safe
// relative path: unsafe characters become "_", dot segments are dropped.
func SanitizeDestPath(p string) string {
	parts := strings.Split(strings.ReplaceAll(p, "\\", "/"), "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Map(func(r rune) rune {
			if r < 0x20 || r == 0x7f {
				return '_'
			}
			return r
		}, part)
		part = strings.TrimSpace(unsafeChars.Replace(part))
		if part == "" || part == "." || part == ".." {
			continue
		}
		out = append(out, part)
	}
	return path.Join(out...)
}

const (
	DriveRefPrefix = "gdrive://"
	S3RefPrefix    = "s3://"
)

// SplitS3Ref splits s3://bucket/key into its bucket and key.
func SplitS3Ref(ref string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(ref), S3RefPrefix)
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	return bucket, key, bucket != ""
}

// DriveFileID returns the file id of a gdrive://<id> reference.
func DriveFileID(ref string) (string, bool) {
	id, found := strings.CutPrefix(strings.TrimSpace(ref), DriveRefPrefix)
	return id, found && id != ""
}

// DisambiguateDest marks dest with a short hash of ref before the file
// extension, so two sources that map to the same path get distinct files.
// The result is stable for a given ref.
func DisambiguateDest(dest, ref string) string {
	sum := sha256.Sum256([]byte(NormalizeRef(ref)))
	tag := "~" + hex.EncodeToString(sum[:4])
	dir, file := path.Split(dest)
	ext := path.Ext(file)
	if ext == file {
		ext = ""
	}
	return dir + strings.TrimSuffix(file, ext) + tag + ext
}

// NumberedName returns name with " (n)" before its extension, the way file
// managers number siblings that share a name.
func NumberedName(name string, n int) string {
	ext := path.Ext(name)
	if ext == name {
		ext = ""
	}
	return strings.TrimSuffix(name, ext) + " (" + strconv.Itoa(n) + ")" + ext
}
