package domain

import "errors"

var (
	// ErrInvalidJobName is returned when a job name does not end in a creation timestamp
	ErrInvalidJobName = errors.New("invalid job name")

	// ErrExperimentNotFound is returned when no experiment matches the job name and owner
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrProjectNotFound is returned when no project matches the name and owner
	ErrProjectNotFound = errors.New("project not found")

	// ErrExperimentExists is returned when inserting a job name that is already indexed
	ErrExperimentExists = errors.New("experiment already exists")

	// ErrNotTrashed is returned when restoring a job that is not in the trash
	ErrNotTrashed = errors.New("experiment is not trashed")

	// ErrAlreadyRemoved is returned when mutating an evicted job
	ErrAlreadyRemoved = errors.New("experiment already removed")
)
