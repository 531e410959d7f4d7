package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMisaligned is returned when two signal sources do not enumerate
	// the same slice ids in the same order.
	ErrMisaligned = errors.New("slice ids misaligned")

	// ErrPatientMismatch is returned when artifacts joined for one patient
	// carry different patient ids.
	ErrPatientMismatch = errors.New("patient id mismatch")

	// ErrShapeMismatch is returned when two masks that must be compared
	// voxel by voxel have different dimensions.
	ErrShapeMismatch = errors.New("mask shape mismatch")

	// ErrDuplicateSlice is returned when a patient lists the same slice id twice.
	ErrDuplicateSlice = errors.New("duplicate slice id")
)

// CheckAlignment verifies that a and b list identical slice ids in identical order.
// The names are only used to build the error message.
func CheckAlignment(nameA string, a []int, nameB string, b []int) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: %s has %d slices, %s has %d",
			ErrMisaligned, nameA, len(a), nameB, len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			return fmt.Errorf("%w: position %d is slice %d in %s but slice %d in %s",
				ErrMisaligned, i, a[i], nameA, b[i], nameB)
		}
	}
	return nil
}

// CheckPatient verifies that two artifacts belong to the same patient
func CheckPatient(a, b string) error {
	if a != b {
		return fmt.Errorf("%w: %q vs %q", ErrPatientMismatch, a, b)
	}
	return nil
}

// IndexByID maps each slice id to its position in ids.
// Slice ids are not assumed to equal their positions.
func IndexByID(ids []int) (map[int]int, error) {
	index := make(map[int]int, len(ids))
	for i, id := range ids {
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateSlice, id)
		}
		index[id] = i
	}
	return index, nil
}
