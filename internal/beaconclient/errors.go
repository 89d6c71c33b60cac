package beaconclient

import "github.com/pkg/errors"

// BeaconUnavailable is returned once a request exhausts its retry budget
// against transient failures (5xx, timeouts, network errors).
var BeaconUnavailable = errors.New("beaconclient: beacon node unavailable after retries")

// BadRequest wraps a non-retryable 4xx response (anything but 429).
var BadRequest = errors.New("beaconclient: bad request")

// FatalHTTPError is returned for a 4xx response other than 429. It is
// never retried.
type FatalHTTPError struct {
	StatusCode int
	Body       string
}

func (e *FatalHTTPError) Error() string {
	return errors.Wrapf(BadRequest, "status %d: %s", e.StatusCode, e.Body).Error()
}

func (e *FatalHTTPError) Is(target error) bool { return target == BadRequest }
