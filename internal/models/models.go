package models

import "time"

type Cohort struct {
	CohortID  string    `json:"cohort_id"`
	Name      string    `json:"name"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"created_at"`
}

type Slide struct {
	SlideID    string    `json:"slide_id"`
	CohortID   string    `json:"cohort_id"`
	PatientID  string    `json:"patient_id"`
	Filename   string    `json:"filename"`
	Label      string    `json:"label,omitempty"`
	TileCount  int       `json:"tile_count"`
	Status     string    `json:"status"`
	FailReason string    `json:"fail_reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TileCoord is a pixel coordinate at extraction level 0, row-major ordered
// by (Y, X) within one slide.
type TileCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// FeatureBag is one slide's cached tile embeddings. Coords and Features are
// index-aligned; every row of Features has the same dimension and was
// produced under the same Fingerprint.
type FeatureBag struct {
	SlideID     string      `json:"slide_id"`
	Fingerprint string      `json:"fingerprint"`
	TileSizePx  int         `json:"tile_size_px"`
	Coords      []TileCoord `json:"coords"`
	Features    [][]float32 `json:"features"`
	Dim         int         `json:"dim"`
	Dropped     int         `json:"dropped"`
}

func (b *FeatureBag) Len() int { return len(b.Coords) }

type Run struct {
	RunID     string    `json:"run_id"`
	CohortID  string    `json:"cohort_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Prediction struct {
	RunID     string    `json:"run_id"`
	SlideID   string    `json:"slide_id"`
	Fold      int       `json:"fold"`
	Label     string    `json:"label"`
	Predicted string    `json:"predicted"`
	Scores    []float64 `json:"scores"`
	Ensembled bool      `json:"ensembled"`
}
