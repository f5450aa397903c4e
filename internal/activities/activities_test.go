package activities

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"pathflow/internal/config"
	"pathflow/internal/encoder"
	"pathflow/internal/slide"
	"pathflow/internal/tessellate"
	"pathflow/internal/util"
)

func TestResolveSlideActivityDigestsFile(t *testing.T) {
	dir := t.TempDir()
	desc := []byte(`{"slide_id":"s1","width":256,"height":256,"mpp":1.0,"tissue":[{"x":0,"y":0,"w":128,"h":128}]}`)
	path := filepath.Join(dir, "s1.slide.json")
	if err := os.WriteFile(path, desc, 0o644); err != nil {
		t.Fatal(err)
	}

	enc, err := encoder.New("mock", 16)
	if err != nil {
		t.Fatal(err)
	}
	a := &Activities{
		cfg:     config.Config{},
		opener:  slide.SyntheticOpener{},
		enc:     enc,
		tparams: tessellate.DefaultParams(),
	}

	out, err := a.ResolveSlideActivity(context.Background(), ResolveSlideInput{SlidePath: path})
	if err != nil {
		t.Fatal(err)
	}
	if out.SlideID != "s1" {
		t.Fatalf("slide id %q", out.SlideID)
	}
	if out.Fingerprint == "" {
		t.Fatal("empty fingerprint")
	}
	if out.FileDigest != util.SHA256Hex(desc) {
		t.Fatalf("file digest %q does not match descriptor contents", out.FileDigest)
	}
}

func TestResolveSlideActivityUnreadableFile(t *testing.T) {
	enc, err := encoder.New("mock", 16)
	if err != nil {
		t.Fatal(err)
	}
	a := &Activities{
		cfg:     config.Config{},
		opener:  slide.SyntheticOpener{},
		enc:     enc,
		tparams: tessellate.DefaultParams(),
	}

	_, err = a.ResolveSlideActivity(context.Background(), ResolveSlideInput{SlidePath: filepath.Join(t.TempDir(), "missing.slide.json")})
	if err == nil {
		t.Fatal("expected an error for a missing slide file")
	}
}
