package models

import "errors"

// Error kinds shared by the pipeline. Each layer wraps them with oops.New, so
// callers test with errors.Is.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	// Authors may not review their own content.
	ErrSelfValidationForbidden = errors.New("authors cannot validate their own content")
	ErrConcurrentEdit          = errors.New("content was modified since it was loaded")
	ErrMalformedManifest       = errors.New("malformed manifest")
	ErrIO                      = errors.New("storage unavailable")
	ErrUnknownVersion          = errors.New("commit is not part of this content's history")
	ErrInvalidTransition       = errors.New("invalid validation transition")
	ErrCommentRequired         = errors.New("a comment is required")
	ErrConcurrentPublication   = errors.New("content was published or revoked concurrently")
	ErrArtifactFailed          = errors.New("artifact generation failed")
)
