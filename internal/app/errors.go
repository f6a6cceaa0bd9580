package app

import "errors"

var (
	ErrNoPaths           = errors.New("no migration paths found")
	ErrInvalidPathLength = errors.New("max path length must be positive")
	ErrUnclassifiedSite  = errors.New("site is not equivalent to any orbit representative")
)
