package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"slicecorrect/internal/models"
)

// Collection names one kind of per-patient artifact
type Collection string

const (
	GroundTruth Collection = "ground_truth"
	Predictions Collection = "predictions"
	Uncertainty Collection = "uncertainty"
	Impact      Collection = "impact"
	Selections  Collection = "selections"
	Corrected   Collection = "corrected"
	Samples     Collection = "mc_samples"
)

// InputCollections are the four artifacts a patient needs to be evaluated
var InputCollections = []Collection{Predictions, GroundTruth, Uncertainty, Impact}

// Layout maps collections to key prefixes inside the store
type Layout map[Collection]string

// DefaultLayout stores each collection under its own name
func DefaultLayout() Layout {
	return Layout{
		GroundTruth: string(GroundTruth),
		Predictions: string(Predictions),
		Uncertainty: string(Uncertainty),
		Impact:      string(Impact),
		Selections:  string(Selections),
		Corrected:   string(Corrected),
		Samples:     string(Samples),
	}
}

// Repository gives typed, schema-checked access to the artifacts in a Store
type Repository struct {
	store   Store
	layout  Layout
	schemas map[Collection]*jsonschema.Schema
	logger  *slog.Logger
}

// NewRepository wraps store. Collections missing from layout use their default prefix.
func NewRepository(store Store, layout Layout, logger *slog.Logger) (*Repository, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	merged := DefaultLayout()
	for c, prefix := range layout {
		if prefix != "" {
			merged[c] = strings.Trim(prefix, "/")
		}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Repository{store: store, layout: merged, schemas: schemas, logger: logger}, nil
}

// Key returns the store key of a patient's artifact
func (r *Repository) Key(c Collection, patientID string) string {
	return path.Join(r.layout[c], patientID+".json")
}

// PatientIDs lists the patients that have an artifact in collection c
func (r *Repository) PatientIDs(ctx context.Context, c Collection) ([]string, error) {
	prefix := r.layout[c] + "/"
	keys, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c, err)
	}
	var ids []string
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if strings.Contains(rest, "/") || !strings.HasSuffix(rest, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(rest, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// CohortReport describes which patients can be evaluated
type CohortReport struct {
	// Patients have every input collection, sorted
	Patients []string

	// Excluded lists patients present somewhere but missing an input
	Excluded []string

	// Missing counts the excluded patients lacking each collection
	Missing map[Collection]int
}

// Cohort intersects the patients of the four input collections
func (r *Repository) Cohort(ctx context.Context) (CohortReport, error) {
	present := make(map[Collection]map[string]bool, len(InputCollections))
	all := make(map[string]bool)
	for _, c := range InputCollections {
		ids, err := r.PatientIDs(ctx, c)
		if err != nil {
			return CohortReport{}, err
		}
		present[c] = make(map[string]bool, len(ids))
		for _, id := range ids {
			present[c][id] = true
			all[id] = true
		}
	}

	report := CohortReport{Missing: make(map[Collection]int)}
	for id := range all {
		complete := true
		for _, c := range InputCollections {
			if !present[c][id] {
				complete = false
				report.Missing[c]++
			}
		}
		if complete {
			report.Patients = append(report.Patients, id)
		} else {
			report.Excluded = append(report.Excluded, id)
		}
	}
	sort.Strings(report.Patients)
	sort.Strings(report.Excluded)

	r.logger.Debug("cohort resolved",
		"patients", len(report.Patients), "excluded", len(report.Excluded))
	return report, nil
}

// load reads, validates and decodes one artifact
func (r *Repository) load(ctx context.Context, c Collection, patientID string, v interface{}) error {
	key := r.Key(c, patientID)
	data, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if s, ok := r.schemas[c]; ok {
		if err := validateDocument(s, data); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: failed to decode: %w", key, err)
	}
	r.logger.Debug("artifact loaded", "key", key, "bytes", len(data))
	return nil
}

// save validates the encoded artifact against its schema and stores it
func (r *Repository) save(ctx context.Context, c Collection, patientID string, v interface{}) error {
	if patientID == "" {
		return fmt.Errorf("cannot save %s artifact without patient id", c)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", c, err)
	}
	key := r.Key(c, patientID)
	if s, ok := r.schemas[c]; ok {
		if err := validateDocument(s, data); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if err := r.store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	r.logger.Debug("artifact saved", "key", key, "bytes", len(data))
	return nil
}

func checkKeyed(key, want, got string) error {
	if err := models.CheckPatient(want, got); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// LoadGroundTruth loads and validates a patient's ground truth
func (r *Repository) LoadGroundTruth(ctx context.Context, patientID string) (models.GroundTruth, error) {
	var gt models.GroundTruth
	if err := r.load(ctx, GroundTruth, patientID, &gt); err != nil {
		return gt, err
	}
	key := r.Key(GroundTruth, patientID)
	if err := checkKeyed(key, patientID, gt.PatientID); err != nil {
		return gt, err
	}
	for _, s := range gt.Slices {
		if err := s.Mask.Validate(); err != nil {
			return gt, fmt.Errorf("%s slice %d: %w", key, s.SliceID, err)
		}
	}
	return gt, nil
}

// LoadPredictions loads and validates a patient's predictions
func (r *Repository) LoadPredictions(ctx context.Context, patientID string) (models.Predictions, error) {
	var pred models.Predictions
	if err := r.load(ctx, Predictions, patientID, &pred); err != nil {
		return pred, err
	}
	key := r.Key(Predictions, patientID)
	if err := checkKeyed(key, patientID, pred.PatientID); err != nil {
		return pred, err
	}
	for _, s := range pred.Slices {
		if err := s.PredMask.Validate(); err != nil {
			return pred, fmt.Errorf("%s slice %d: %w", key, s.SliceID, err)
		}
	}
	return pred, nil
}

// LoadUncertainty loads a patient's uncertainty signal
func (r *Repository) LoadUncertainty(ctx context.Context, patientID string) (models.Uncertainty, error) {
	var unc models.Uncertainty
	if err := r.load(ctx, Uncertainty, patientID, &unc); err != nil {
		return unc, err
	}
	return unc, checkKeyed(r.Key(Uncertainty, patientID), patientID, unc.PatientID)
}

// LoadImpact loads a patient's impact signal
func (r *Repository) LoadImpact(ctx context.Context, patientID string) (models.Impact, error) {
	var imp models.Impact
	if err := r.load(ctx, Impact, patientID, &imp); err != nil {
		return imp, err
	}
	return imp, checkKeyed(r.Key(Impact, patientID), patientID, imp.PatientID)
}

// LoadSelection loads a stored selection artifact
func (r *Repository) LoadSelection(ctx context.Context, patientID string) (models.Selection, error) {
	var sel models.Selection
	if err := r.load(ctx, Selections, patientID, &sel); err != nil {
		return sel, err
	}
	return sel, checkKeyed(r.Key(Selections, patientID), patientID, sel.PatientID)
}

// LoadCorrected loads a stored corrected volume
func (r *Repository) LoadCorrected(ctx context.Context, patientID string) (models.CorrectedVolume, error) {
	var cv models.CorrectedVolume
	if err := r.load(ctx, Corrected, patientID, &cv); err != nil {
		return cv, err
	}
	return cv, checkKeyed(r.Key(Corrected, patientID), patientID, cv.PatientID)
}

// LoadSamples loads a patient's Monte Carlo probability maps
func (r *Repository) LoadSamples(ctx context.Context, patientID string) (models.MCSamples, error) {
	var mc models.MCSamples
	if err := r.load(ctx, Samples, patientID, &mc); err != nil {
		return mc, err
	}
	for _, s := range mc.Slices {
		for j, m := range s.Samples {
			if err := m.ValidateUnit(); err != nil {
				return mc, fmt.Errorf("%s: slice %d sample %d: %w", r.Key(Samples, patientID), s.SliceID, j, err)
			}
		}
	}
	return mc, checkKeyed(r.Key(Samples, patientID), patientID, mc.PatientID)
}

func (r *Repository) SaveGroundTruth(ctx context.Context, gt models.GroundTruth) error {
	return r.save(ctx, GroundTruth, gt.PatientID, gt)
}

func (r *Repository) SavePredictions(ctx context.Context, pred models.Predictions) error {
	return r.save(ctx, Predictions, pred.PatientID, pred)
}

func (r *Repository) SaveUncertainty(ctx context.Context, unc models.Uncertainty) error {
	return r.save(ctx, Uncertainty, unc.PatientID, unc)
}

func (r *Repository) SaveImpact(ctx context.Context, imp models.Impact) error {
	return r.save(ctx, Impact, imp.PatientID, imp)
}

func (r *Repository) SaveSelection(ctx context.Context, sel models.Selection) error {
	return r.save(ctx, Selections, sel.PatientID, sel)
}

func (r *Repository) SaveCorrected(ctx context.Context, cv models.CorrectedVolume) error {
	return r.save(ctx, Corrected, cv.PatientID, cv)
}

func (r *Repository) SaveSamples(ctx context.Context, mc models.MCSamples) error {
	return r.save(ctx, Samples, mc.PatientID, mc)
}

// ResultsKey is the store key of the evaluation results of one run
func ResultsKey(runID string) string {
	return path.Join("results", runID+".json")
}

// PutJSON stores an arbitrary document under key without schema checks
func (r *Repository) PutJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return r.store.Put(ctx, key, data)
}

// GetJSON decodes the document stored under key into v
func (r *Repository) GetJSON(ctx context.Context, key string, v interface{}) error {
	data, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}
