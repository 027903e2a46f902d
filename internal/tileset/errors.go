package tileset

import (
	"errors"
	"fmt"
)

// ErrMalformedDataset marks tileset or subtree data missing fields the traversal depends on.
var ErrMalformedDataset = errors.New("malformed dataset")

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedDataset, fmt.Sprintf(format, args...))
}

// FetchError is a transport failure. It is transient and the request may be retried.
type FetchError struct {
	URI string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URI, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError is a payload that arrived but could not be decoded, usually a data bug.
type ParseError struct {
	URI string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URI, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Warning is a non fatal problem found while loading, such as an unsupported extension.
type Warning struct {
	Extension string
	Message   string
}

func (w Warning) String() string {
	if w.Extension != "" {
		return w.Extension + ": " + w.Message
	}
	return w.Message
}

// IsPermanent reports whether retrying the request that produced err can not help.
func IsPermanent(err error) bool {
	var parseErr *ParseError
	return errors.Is(err, ErrMalformedDataset) || errors.As(err, &parseErr)
}
