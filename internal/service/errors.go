package service

import (
	"fmt"

	"github.com/google/uuid"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id uuid.UUID, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrRunNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "run")
}

type ErrFileCorrupted struct {
	error
}

func NewErrFileCorrupted(message string) *ErrFileCorrupted {
	return &ErrFileCorrupted{fmt.Errorf("bad request: %s", message)}
}

func NewErrExpenseFileCorrupted(message string) *ErrFileCorrupted {
	return NewErrFileCorrupted(fmt.Sprintf("the provided expense file is corrupted: %s", message))
}

type ErrRunNotWaiting struct {
	error
}

func NewErrRunNotWaiting(id uuid.UUID, status string) *ErrRunNotWaiting {
	return &ErrRunNotWaiting{fmt.Errorf("run %s is not waiting for user input (status %s)", id, status)}
}

type ErrArtifactNotReady struct {
	error
}

func NewErrArtifactNotReady(id uuid.UUID, status string) *ErrArtifactNotReady {
	return &ErrArtifactNotReady{fmt.Errorf("run %s has no artifacts yet (status %s)", id, status)}
}

type ErrArtifactNotFound struct {
	error
}

func NewErrArtifactNotFound(id uuid.UUID, kind string) *ErrArtifactNotFound {
	return &ErrArtifactNotFound{fmt.Errorf("run %s has no %q artifact", id, kind)}
}
