package types

import "errors"

// ErrorKind tags a result that was produced by a failure path rather than a
// normal judgment.
type ErrorKind string

const (
	ErrorKindNone                 ErrorKind = ""
	ErrorKindSimulator            ErrorKind = "simulator"
	ErrorKindJudgmentParse        ErrorKind = "judgment_parse"
	ErrorKindBackend              ErrorKind = "backend"
	ErrorKindTimeout              ErrorKind = "timeout"
	ErrorKindScheduling           ErrorKind = "scheduling"
	ErrorKindCancelled            ErrorKind = "cancelled"
	ErrorKindInternal             ErrorKind = "internal"
	ErrorKindEmbeddingUnavailable ErrorKind = "embedding_unavailable"
)

var (
	// ErrInvalidBatch is returned when a batch or test item fails validation.
	ErrInvalidBatch = errors.New("invalid batch")
	// ErrScheduling is returned when the worker pool cannot be built.
	ErrScheduling = errors.New("scheduling failed")
	// ErrEmbeddingUnavailable is returned by embedding engines that cannot
	// produce a vector.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrUnitTimeout is returned when a unit exceeds its deadline.
	ErrUnitTimeout = errors.New("unit deadline exceeded")
	// ErrUnknownTool is returned by a toolbox for an unregistered tool name.
	ErrUnknownTool = errors.New("unknown tool")
)
