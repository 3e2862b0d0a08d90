package session

import "errors"

var (
	// ErrAborted is returned when the session's abort handle fired, even if
	// the last round completed before the abort was observed.
	ErrAborted = errors.New("session aborted")

	// ErrRoundLimitExceeded is returned when the model keeps requesting tools
	// past Options.MaxRounds. The invocation log and partial text are kept.
	ErrRoundLimitExceeded = errors.New("tool round limit exceeded")

	// ErrNoUserMessage is returned when the filtered context window holds no
	// user message to answer.
	ErrNoUserMessage = errors.New("no user message in context window")
)
