package admission

import "errors"

// ErrRateLimited means the caller's token bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrOverloaded means the request was shed because the pipeline backlog is
// beyond capacity.
var ErrOverloaded = errors.New("server overloaded")

// ErrTimedOut means the request's admission deadline elapsed before a
// concurrency slot was acquired.
var ErrTimedOut = errors.New("request timed out")
