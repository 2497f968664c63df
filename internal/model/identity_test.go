package model

import "testing"

func TestItemID_StableAcrossEquivalentRefs(t *testing.T) {
	a := ItemID("https://Example.com:443/files/report.pdf#page=2", "example.com/files/report.pdf")
	b := ItemID("https://example.com/files/report.pdf", "example.com/files/report.pdf")
	if a != b {
		t.Fatalf("expected equal ids, got %s and %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("unexpected id length %d", len(a))
	}

	c := ItemID("https://example.com/files/report.pdf", "mirror/report.pdf")
	if a == c {
		t.Fatalf("different destination must change the id")
	}
}

func TestNormalizeRef(t *testing.T) {
	cases := map[string]string{
		"  https://EXAMPLE.com/a/  ":  "https://example.com/a",
		"http://example.com:80/x#top": "http://example.com/x",
		"https://example.com:8443/x":  "https://example.com:8443/x",
		"https://example.com/":        "https://example.com/",
		"s3://Bucket/Key/":            "s3://Bucket/Key/",
		"gdrive://1AbC":               "gdrive://1AbC",
	}
	for in, want := range cases {
		if got := NormalizeRef(in); got != want {
			t.Fatalf("NormalizeRef(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeDestPath(t *testing.T) {
	cases := map[string]string{
		"example.com/files/a:b?.pdf": "example.com/files/a_b_.pdf",
		"../../etc/passwd":           "etc/passwd",
		"dir//sub/./x|y*.txt":        "dir/sub/x_y_.txt",
		`win\style\path.doc`:         "win/style/path.doc",
		"tab\there.txt":              "tab_here.txt",
	}
	for in, want := range cases {
		if got := SanitizeDestPath(in); got != want {
			t.Fatalf("SanitizeDestPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitS3Ref(t *testing.T) {
	bucket, key, ok := SplitS3Ref("s3://reports/2024/q1.pdf")
	if !ok || bucket != "reports" || key != "2024/q1.pdf" {
		t.Fatalf("unexpected split: %q %q %v", bucket, key, ok)
	}
	if _, _, ok := SplitS3Ref("https://example.com"); ok {
		t.Fatalf("expected non-s3 ref to be rejected")
	}
	if id, ok := DriveFileID("gdrive://1AbC"); !ok || id != "1AbC" {
		t.Fatalf("unexpected drive id %q %v", id, ok)
	}
}

func TestDisambiguateDest(t *testing.T) {
	a := DisambiguateDest("assets.example/docs/report.pdf", "https://assets.example/docs/report.pdf?v=1")
	b := DisambiguateDest("assets.example/docs/report.pdf", "https://assets.example/docs/report.pdf?v=2")
	if a == b {
		t.Fatalf("different sources must get different paths, both %s", a)
	}
	if again := DisambiguateDest("assets.example/docs/report.pdf", "https://ASSETS.example/docs/report.pdf?v=1"); again != a {
		t.Fatalf("expected stable path %s, got %s", a, again)
	}
	if len(a) != len("assets.example/docs/report~00000000.pdf") || a[:len("assets.example/docs/report~")] != "assets.example/docs/report~" || a[len(a)-4:] != ".pdf" {
		t.Fatalf("unexpected path %s", a)
	}
	if got := DisambiguateDest("host/export", "https://host/export?id=7"); got[:len("host/export~")] != "host/export~" || len(got) != len("host/export~00000000") {
		t.Fatalf("unexpected path without extension %s", got)
	}
}

func TestNumberedName(t *testing.T) {
	cases := map[string]string{
		"report.pdf":     "report (2).pdf",
		"archive.tar.gz": "archive.tar (2).gz",
		"README":         "README (2)",
		".env":           ".env (2)",
	}
	for in, want := range cases {
		if got := NumberedName(in, 2); got != want {
			t.Fatalf("NumberedName(%q) = %q, want %q", in, got, want)
		}
	}
}
