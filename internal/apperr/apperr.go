// Package apperr holds the error classes shared by the indexing and answering pipeline.
package apperr

import "errors"

var (
	// ErrMissingInput reports a source document or knowledge base that does not exist.
	ErrMissingInput = errors.New("missing input")
	// ErrCorruptStore reports an index and chunk store that cannot be used together.
	ErrCorruptStore = errors.New("corrupt or mismatched store")
	// ErrCollaboratorUnavailable reports an embedding or language model backend failure.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	// ErrInvalidArguments reports bad command line or API arguments.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidArguments):
		return 2
	default:
		return 1
	}
}

// Skippable reports whether a batch run may log err and move on to the next item.
func Skippable(err error) bool {
	return errors.Is(err, ErrMissingInput) || errors.Is(err, ErrInvalidArguments)
}
