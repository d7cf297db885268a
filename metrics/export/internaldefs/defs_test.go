package internaldefs

import (
	"strings"
	"testing"
)

func TestCounterDefsAreUniqueAndPrefixed(t *testing.T) {
	seenName := map[string]bool{}
	seenID := map[uint16]bool{}
	for _, def := range CounterDefs {
		if !strings.HasPrefix(def.Name, "authcore_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("unexpected counter name %q", def.Name)
		}
		if seenName[def.Name] || seenID[uint16(def.ID)] {
			t.Fatalf("duplicate counter %q", def.Name)
		}
		seenName[def.Name] = true
		seenID[uint16(def.ID)] = true
	}
}

func TestBucketHelpers(t *testing.T) {
	if len(HistogramUpperBounds)+1 != len(HistogramBoundSuffix) {
		t.Fatal("bounds and suffixes out of step")
	}

	norm := NormalizeBuckets([]uint64{1, 2, 3})
	if norm != [8]uint64{1, 2, 3} {
		t.Fatalf("unexpected normalized buckets %v", norm)
	}
	cum := CumulativeBuckets([8]uint64{1, 0, 2, 0, 0, 0, 0, 4})
	if cum != [8]uint64{1, 1, 3, 3, 3, 3, 3, 7} {
		t.Fatalf("unexpected cumulative buckets %v", cum)
	}
}
