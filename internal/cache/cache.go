package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pathflow/internal/encoder"
	"pathflow/internal/models"
	"pathflow/internal/util"
)

// Fingerprint derives the cache key component identifying which encoder
// and which extraction parameters produced a bag. Any change to either
// invalidates prior caches for correctness, not merely performance.
func Fingerprint(info encoder.Info, tessellationKey string) string {
	return util.SHA256Hex([]byte(info.Identifier() + "|" + tessellationKey))[:32]
}

// Store is a per-slide feature bag cache on the filesystem, one file per
// (slide, fingerprint) key. Existence is a stat, never a deserialize, and
// writes go through a temp file + rename so interrupted runs leave no
// partially readable bag. Store is the only shared mutable resource of a
// pipeline run; inject one per run rather than reaching for a global.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) bagPath(slideID, fingerprint string) string {
	return filepath.Join(util.SafeJoin(s.root, slideID), fingerprint+".bag")
}

func (s *Store) Has(slideID, fingerprint string) bool {
	st, err := os.Stat(s.bagPath(slideID, fingerprint))
	return err == nil && !st.IsDir()
}

// Put persists a bag atomically. Storing an already-cached key is a no-op,
// which is what makes interrupted pipeline runs idempotently resumable.
func (s *Store) Put(bag *models.FeatureBag) error {
	if bag.SlideID == "" || bag.Fingerprint == "" {
		return fmt.Errorf("bag missing slide id or fingerprint")
	}
	if len(bag.Coords) == 0 {
		return fmt.Errorf("refusing to cache empty bag for slide %s", bag.SlideID)
	}
	if s.Has(bag.SlideID, bag.Fingerprint) {
		return nil
	}
	path := s.bagPath(bag.SlideID, bag.Fingerprint)
	if err := util.WriteFileAtomic(path, func(w io.Writer) error {
		return encodeBag(w, bag)
	}); err != nil {
		return fmt.Errorf("store bag for slide %s: %w", bag.SlideID, err)
	}
	return nil
}

// Get loads a bag and verifies it was produced under the requested
// fingerprint. A stale record never silently satisfies a newer request.
func (s *Store) Get(slideID, fingerprint string) (*models.FeatureBag, error) {
	f, err := os.Open(s.bagPath(slideID, fingerprint))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("slide %s fingerprint %s: %w", slideID, fingerprint, util.ErrBagNotFound)
		}
		return nil, fmt.Errorf("open bag for slide %s: %w", slideID, err)
	}
	defer f.Close()
	bag, err := decodeBag(f)
	if err != nil {
		return nil, fmt.Errorf("decode bag for slide %s: %w", slideID, err)
	}
	if bag.Fingerprint != fingerprint {
		return nil, fmt.Errorf("slide %s: stored %s, requested %s: %w",
			slideID, bag.Fingerprint, fingerprint, util.ErrFingerprintMismatch)
	}
	if bag.SlideID != slideID {
		return nil, fmt.Errorf("bag file for slide %s names slide %s", slideID, bag.SlideID)
	}
	return bag, nil
}
