package feed

import (
	"errors"
	"fmt"
)

// ErrPageLimit aborts a cycle that exceeds Options.MaxPages.
var ErrPageLimit = errors.New("page limit exceeded")

// FetchError is returned for any failure during pagination: transport,
// timeout, non-2xx status or an undecodable body. Nothing fetched before the
// failure is returned alongside it.
type FetchError struct {
	URL        string
	Page       int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch page %d (%s): status %d: %v", e.Page, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch page %d (%s): %v", e.Page, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
