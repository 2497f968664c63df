package archive

import (
	"testing"

	"asset-harvester/internal/model"
)

func TestEstimateSizes(t *testing.T) {
	items := []model.Item{
		{ID: "a", ExpectedSize: 1000},
		{ID: "b", ExpectedSize: 2000},
		{ID: "c"},
		{ID: "d", ExpectedSize: 4000},
	}

	est := estimateSizes(items)
	if !est.hasEstimate() {
		t.Fatal("expected size estimate")
	}
	if est.totalBytes != 7000 {
		t.Fatalf("totalBytes = %d, want 7000", est.totalBytes)
	}
	if est.unknown != 1 {
		t.Fatalf("unknown = %d, want 1", est.unknown)
	}
	got := est.completedBytes(map[string]bool{"b": true, "c": true})
	if got != 2000 {
		t.Fatalf("completedBytes = %d, want 2000", got)
	}
}

func TestEstimateSizesWithoutExpectedSizes(t *testing.T) {
	est := estimateSizes([]model.Item{{ID: "a"}, {ID: "b"}})
	if est.hasEstimate() {
		t.Fatal("expected no estimate")
	}
	if got := est.completedBytes(map[string]bool{"a": true}); got != 0 {
		t.Fatalf("completedBytes = %d, want 0", got)
	}
}

func TestFormatBytesIEC(t *testing.T) {
	cases := map[int64]string{
		0:       "0 B",
		512:     "512 B",
		1536:    "1.5 KiB",
		5 << 20: "5.0 MiB",
		3 << 30: "3.0 GiB",
	}
	for in, want := range cases {
		if got := formatBytesIEC(in); got != want {
			t.Fatalf("formatBytesIEC(%d) = %q, want %q", in, got, want)
		}
	}
}
