package cohort

import (
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/gocarina/gocsv"
)

// Row is one line of the clinical table: a slide, the patient it belongs
// to and the slide-level target. Labels only ever exist at this level;
// the pipeline never sees tile annotations.
type Row struct {
	PatientID string `csv:"patient_id"`
	SlideID   string `csv:"slide_id"`
	Label     string `csv:"label"`
}

// Table is the immutable label mapping the training side consumes.
// Patients group slides so one patient's slides never straddle a fold
// boundary.
type Table struct {
	Labels        map[string]string   // slide id -> label
	PatientOf     map[string]string   // slide id -> patient id
	PatientSlides map[string][]string // patient id -> slide ids, sorted
	PatientLabel  map[string]string
	Classes       []string // sorted distinct labels
}

func LoadCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cohort table: %w", err)
	}
	defer f.Close()
	var rows []Row
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parse cohort table %s: %w", path, err)
	}
	return rows, nil
}

// Build filters the raw table down to complete cases: slides with a label
// and (per hasFeatures) a cached feature bag, patients with at least one
// usable slide, and a consistent label per patient. Incomplete entries
// are logged and dropped, never silently trained on.
func Build(rows []Row, hasFeatures func(slideID string) bool) (*Table, error) {
	t := &Table{
		Labels:        map[string]string{},
		PatientOf:     map[string]string{},
		PatientSlides: map[string][]string{},
		PatientLabel:  map[string]string{},
	}
	classSet := map[string]bool{}
	for _, r := range rows {
		if r.SlideID == "" {
			continue
		}
		if r.Label == "" {
			log.Printf("cohort: slide %s has no label, dropping", r.SlideID)
			continue
		}
		if hasFeatures != nil && !hasFeatures(r.SlideID) {
			log.Printf("cohort: slide %s has no cached features, dropping", r.SlideID)
			continue
		}
		patient := r.PatientID
		if patient == "" {
			patient = r.SlideID // slide is its own case
		}
		if prev, ok := t.PatientLabel[patient]; ok && prev != r.Label {
			return nil, fmt.Errorf("cohort: patient %s has conflicting labels %q and %q", patient, prev, r.Label)
		}
		t.Labels[r.SlideID] = r.Label
		t.PatientOf[r.SlideID] = patient
		t.PatientSlides[patient] = append(t.PatientSlides[patient], r.SlideID)
		t.PatientLabel[patient] = r.Label
		classSet[r.Label] = true
	}
	if len(t.Labels) == 0 {
		return nil, fmt.Errorf("cohort: no usable slides after filtering")
	}
	for p := range t.PatientSlides {
		sort.Strings(t.PatientSlides[p])
	}
	for c := range classSet {
		t.Classes = append(t.Classes, c)
	}
	sort.Strings(t.Classes)
	return t, nil
}

// ClassIndex maps a label to its position in the sorted class list.
func (t *Table) ClassIndex(label string) (int, error) {
	for i, c := range t.Classes {
		if c == label {
			return i, nil
		}
	}
	return 0, fmt.Errorf("cohort: unknown class %q", label)
}

// Patients returns the sorted patient ids, the unit the fold split
// partitions.
func (t *Table) Patients() []string {
	out := make([]string, 0, len(t.PatientSlides))
	for p := range t.PatientSlides {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
