package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("domain: not found")
	// ErrDataUnavailable means the feature data cannot produce numeric vectors.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrAccuracyNotReached means retraining never crossed the accuracy target.
	ErrAccuracyNotReached = errors.New("accuracy not reached")
	// ErrCatalogLookupFailure means the catalog could not describe a track.
	ErrCatalogLookupFailure = errors.New("catalog lookup failure")
	// ErrConcurrentRun means another run for the same user holds the lock
	// or committed first.
	ErrConcurrentRun = errors.New("concurrent run for user")
)

// DataUnavailableError explains why no usable feature matrix could be built.
type DataUnavailableError struct {
	Reason string
}

func (e *DataUnavailableError) Error() string {
	if e.Reason == "" {
		return ErrDataUnavailable.Error()
	}
	return fmt.Sprintf("data unavailable: %s", e.Reason)
}

func (e *DataUnavailableError) Is(target error) bool {
	return target == ErrDataUnavailable
}

// AccuracyNotReachedError reports the best accuracy seen before giving up.
type AccuracyNotReachedError struct {
	Best     float64
	Target   float64
	Attempts int
}

func (e *AccuracyNotReachedError) Error() string {
	return fmt.Sprintf("accuracy not reached: best %.3f < %.3f after %d attempts", e.Best, e.Target, e.Attempts)
}

func (e *AccuracyNotReachedError) Is(target error) bool {
	return target == ErrAccuracyNotReached
}

// CatalogError carries the status code the catalog answered with instead of data.
type CatalogError struct {
	TrackID string
	Status  int
	Err     error
}

func (e *CatalogError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("catalog lookup %s: status %d: %v", e.TrackID, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("catalog lookup %s: %v", e.TrackID, e.Err)
	default:
		return fmt.Sprintf("catalog lookup %s: status %d", e.TrackID, e.Status)
	}
}

func (e *CatalogError) Is(target error) bool {
	return target == ErrCatalogLookupFailure
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// Temporary reports whether repeating the lookup could succeed.
func (e *CatalogError) Temporary() bool {
	if e.Status >= 200 && e.Status < 300 {
		return false
	}
	switch e.Status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden, http.StatusUnauthorized:
		return false
	}
	return true
}
