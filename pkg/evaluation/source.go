package evaluation

import (
	"context"
	"fmt"
	"sort"

	"slicecorrect/internal/models"
	"slicecorrect/pkg/artifact"
)

// Patient bundles the four input artifacts of one patient
type Patient struct {
	ID          string
	Predictions models.Predictions
	GroundTruth models.GroundTruth
	Uncertainty models.Uncertainty
	Impact      models.Impact
}

// Source supplies the cohort and the artifacts of each patient
type Source interface {
	Cohort(ctx context.Context) (artifact.CohortReport, error)
	LoadPatient(ctx context.Context, patientID string) (Patient, error)
}

// RepositorySource reads patients from an artifact repository
type RepositorySource struct {
	Repo *artifact.Repository
}

func (s RepositorySource) Cohort(ctx context.Context) (artifact.CohortReport, error) {
	return s.Repo.Cohort(ctx)
}

func (s RepositorySource) LoadPatient(ctx context.Context, patientID string) (Patient, error) {
	p := Patient{ID: patientID}
	var err error
	if p.Predictions, err = s.Repo.LoadPredictions(ctx, patientID); err != nil {
		return p, err
	}
	if p.GroundTruth, err = s.Repo.LoadGroundTruth(ctx, patientID); err != nil {
		return p, err
	}
	if p.Uncertainty, err = s.Repo.LoadUncertainty(ctx, patientID); err != nil {
		return p, err
	}
	if p.Impact, err = s.Repo.LoadImpact(ctx, patientID); err != nil {
		return p, err
	}
	return p, nil
}

// MemorySource serves patients held in memory. Patients missing an artifact
// are listed in Incomplete with the collections they lack.
type MemorySource struct {
	Patients   map[string]Patient
	Incomplete map[string][]artifact.Collection
}

// NewMemorySource indexes complete patients by id
func NewMemorySource(patients ...Patient) *MemorySource {
	s := &MemorySource{
		Patients:   make(map[string]Patient, len(patients)),
		Incomplete: make(map[string][]artifact.Collection),
	}
	for _, p := range patients {
		s.Patients[p.ID] = p
	}
	return s
}

func (s *MemorySource) Cohort(ctx context.Context) (artifact.CohortReport, error) {
	report := artifact.CohortReport{Missing: make(map[artifact.Collection]int)}
	for id := range s.Patients {
		report.Patients = append(report.Patients, id)
	}
	for id, missing := range s.Incomplete {
		report.Excluded = append(report.Excluded, id)
		for _, c := range missing {
			report.Missing[c]++
		}
	}
	sort.Strings(report.Patients)
	sort.Strings(report.Excluded)
	return report, nil
}

func (s *MemorySource) LoadPatient(ctx context.Context, patientID string) (Patient, error) {
	p, ok := s.Patients[patientID]
	if !ok {
		return Patient{}, fmt.Errorf("%w: patient %s", artifact.ErrNotFound, patientID)
	}
	return p, nil
}
