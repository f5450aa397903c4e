package cache

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"pathflow/internal/models"
	"pathflow/internal/util"
)

func testBag(slideID, fingerprint string) *models.FeatureBag {
	return &models.FeatureBag{
		SlideID:     slideID,
		Fingerprint: fingerprint,
		TileSizePx:  256,
		Coords:      []models.TileCoord{{X: 0, Y: 0}, {X: 512, Y: 0}, {X: 0, Y: 512}},
		Features: [][]float32{
			{0.1, -0.2, 0.3},
			{1.5, 0, -2.25},
			{-0.0625, 0.5, 7},
		},
		Dim:     3,
		Dropped: 1,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	bag := testBag("s1", "fp1")

	if s.Has("s1", "fp1") {
		t.Fatal("Has before Put")
	}
	if err := s.Put(bag); err != nil {
		t.Fatal(err)
	}
	if !s.Has("s1", "fp1") {
		t.Fatal("Has false after Put")
	}

	got, err := s.Get("s1", "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(bag, got) {
		t.Fatalf("round trip mismatch:\nput %+v\ngot %+v", bag, got)
	}
}

func TestStorePutIdempotent(t *testing.T) {
	s := NewStore(t.TempDir())
	first := testBag("s1", "fp1")
	if err := s.Put(first); err != nil {
		t.Fatal(err)
	}

	// A second Put under the same key must not overwrite the stored bag.
	second := testBag("s1", "fp1")
	second.Features[0][0] = 99
	if err := s.Put(second); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("s1", "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Features[0][0] != float32(0.1) {
		t.Fatalf("second Put overwrote cached bag: %g", got.Features[0][0])
	}
}

func TestStoreRejectsEmptyBag(t *testing.T) {
	s := NewStore(t.TempDir())
	bag := testBag("s1", "fp1")
	bag.Coords = nil
	bag.Features = nil
	if err := s.Put(bag); err == nil {
		t.Fatal("expected error caching empty bag")
	}
}

func TestStoreMissingBag(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Get("s1", "fp1")
	if !errors.Is(err, util.ErrBagNotFound) {
		t.Fatalf("expected bag-not-found, got %v", err)
	}
}

func TestStoreFingerprintMismatch(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	// Plant a bag produced under fp1 at the path for fp2, as a stale or
	// tampered cache entry would look.
	bag := testBag("s1", "fp1")
	path := filepath.Join(root, "s1", "fp2.bag")
	if err := util.WriteFileAtomic(path, func(w io.Writer) error {
		return encodeBag(w, bag)
	}); err != nil {
		t.Fatal(err)
	}

	_, err := s.Get("s1", "fp2")
	if !errors.Is(err, util.ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}
}

func TestStoreIgnoresOtherFingerprints(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Put(testBag("s1", "fp1")); err != nil {
		t.Fatal(err)
	}
	if s.Has("s1", "fp2") {
		t.Fatal("bag under fp1 must not satisfy fp2")
	}
	if _, err := s.Get("s1", "fp2"); !errors.Is(err, util.ErrBagNotFound) {
		t.Fatalf("expected bag-not-found for other fingerprint, got %v", err)
	}
}

func TestStoreCorruptFileFailsClosed(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	if err := os.MkdirAll(filepath.Join(root, "s1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "s1", "fp1.bag"), []byte("not a bag"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("s1", "fp1"); err == nil {
		t.Fatal("expected decode error for corrupt bag file")
	}
}
