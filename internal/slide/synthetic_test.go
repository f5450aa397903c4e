package slide

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSyntheticLevels(t *testing.T) {
	s := NewSynthetic(SyntheticDescriptor{SlideID: "s1", Width: 4096, Height: 2048, MPP: 0.25})
	info := s.Info()
	if info.ID != "s1" || info.MPP != 0.25 {
		t.Fatalf("info: %+v", info)
	}
	if len(info.Levels) < 2 {
		t.Fatalf("expected a pyramid, got %d levels", len(info.Levels))
	}
	if info.Levels[0].Downsample != 1 {
		t.Fatalf("level 0 downsample %g", info.Levels[0].Downsample)
	}
	for i := 1; i < len(info.Levels); i++ {
		if info.Levels[i].Downsample <= info.Levels[i-1].Downsample {
			t.Fatalf("levels not ordered by downsample: %+v", info.Levels)
		}
	}
}

func TestSyntheticReadRegion(t *testing.T) {
	s := NewSynthetic(SyntheticDescriptor{
		SlideID: "s1", Width: 1024, Height: 1024, MPP: 0.5,
		Tissue: []Rect{{X: 0, Y: 0, W: 512, H: 512}},
	})
	img, err := s.ReadRegion(context.Background(), 0, 0, 0, 256, 256)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 256 || img.Bounds().Dy() != 256 {
		t.Fatalf("region bounds %v", img.Bounds())
	}
	// Inside the tissue rectangle the pink stain dominates red over green.
	r, g, _, _ := img.At(10, 10).RGBA()
	if r <= g {
		t.Fatal("tissue region does not look stained")
	}

	if _, err := s.ReadRegion(context.Background(), 0, 900, 900, 256, 256); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
	if _, err := s.ReadRegion(context.Background(), 9, 0, 0, 16, 16); err == nil {
		t.Fatal("expected missing-level error")
	}
}

func TestSyntheticClosedRead(t *testing.T) {
	s := NewSynthetic(SyntheticDescriptor{SlideID: "s1", Width: 256, Height: 256, MPP: 1})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadRegion(context.Background(), 0, 0, 0, 16, 16); err == nil {
		t.Fatal("expected error reading a closed slide")
	}
}

func TestSyntheticOpener(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s1.slide.json")
	b, _ := json.Marshal(SyntheticDescriptor{SlideID: "s1", Width: 512, Height: 512, MPP: 0.5})
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := SyntheticOpener{}.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Info().ID != "s1" {
		t.Fatalf("opened slide id %q", s.Info().ID)
	}

	if _, err := (SyntheticOpener{}).Open(filepath.Join(dir, "missing.slide.json")); err == nil {
		t.Fatal("expected error for missing descriptor")
	}

	bad := filepath.Join(dir, "bad.slide.json")
	if err := os.WriteFile(bad, []byte(`{"slide_id":"x"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (SyntheticOpener{}).Open(bad); err == nil {
		t.Fatal("expected error for invalid dimensions")
	}
}
