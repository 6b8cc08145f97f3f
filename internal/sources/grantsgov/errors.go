package grantsgov

import "fmt"

const bodySnippetLimit = 512

// FetchError reports a failed retrieval of the extract. Either StatusCode is
// set (non-success response) or Err is (transport failure).
type FetchError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d: %s", e.URL, e.StatusCode, e.Body)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError reports a structurally invalid extract. It aborts the whole decode.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse grants extract: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
