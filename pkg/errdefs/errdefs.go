// Package errdefs defines the domain error kinds recognized across Foundry.
//
// Errors are classified into a small set of kinds that the API layer maps to
// HTTP status codes and the reconciler records on task rows. Kinds are
// sentinel errors joined into concrete errors with %w, so callers test with
// the Is* predicates rather than type assertions.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalid indicates caller-provided input failed validation.
	ErrInvalid = errors.New("invalid argument")

	// ErrNotFound indicates the named entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable indicates a temporary failure; the caller may retry.
	ErrUnavailable = errors.New("temporarily unavailable")

	// ErrNotAuthorized indicates the authenticated caller lacks permission.
	ErrNotAuthorized = errors.New("not authorized")
)

func IsInvalid(err error) bool       { return errors.Is(err, ErrInvalid) }
func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool      { return errors.Is(err, ErrConflict) }
func IsUnavailable(err error) bool   { return errors.Is(err, ErrUnavailable) }
func IsNotAuthorized(err error) bool { return errors.Is(err, ErrNotAuthorized) }

// IsDomain reports whether err carries one of the domain kinds. The
// reconciler records domain errors verbatim on the task row; anything else
// is recorded as an unhandled error.
func IsDomain(err error) bool {
	return IsInvalid(err) || IsNotFound(err) || IsConflict(err) ||
		IsUnavailable(err) || IsNotAuthorized(err)
}

// HTTPStatus maps an error to the status code of its kind. Unclassified
// errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case IsInvalid(err):
		return http.StatusBadRequest
	case IsNotAuthorized(err):
		return http.StatusForbidden
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Constructors for the common domain errors.

func HardwareNotFound(ref string) error {
	return fmt.Errorf("hardware %s could not be found: %w", ref, ErrNotFound)
}

func HardwareDuplicateName(name string) error {
	return fmt.Errorf("hardware with name %s already exists: %w", name, ErrConflict)
}

func HardwareAlreadyExists(uuid string) error {
	return fmt.Errorf("hardware with UUID %s already exists: %w", uuid, ErrConflict)
}

func AvailabilityWindowNotFound(uuid string) error {
	return fmt.Errorf("availability window %s could not be found: %w", uuid, ErrNotFound)
}

func WorkerTaskNotFound(uuid string) error {
	return fmt.Errorf("worker task %s could not be found: %w", uuid, ErrNotFound)
}

func WorkerTaskAlreadyExists(hardwareUUID, workerType string) error {
	return fmt.Errorf("worker task for %s/%s already exists: %w",
		hardwareUUID, workerType, ErrConflict)
}

func DriverNotFound(name string) error {
	return fmt.Errorf("could not find driver or hardware type %q: %w", name, ErrNotFound)
}

func InvalidParameterValue(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalid)...)
}

func PatchError(op any, reason error) error {
	return fmt.Errorf("couldn't apply patch %v: %v: %w", op, reason, ErrInvalid)
}

func NoFreeWorker() error {
	return fmt.Errorf("worker pool is at capacity: %w", ErrUnavailable)
}
