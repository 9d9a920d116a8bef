package models

import "errors"

var (
	ErrNodeNotFound      = errors.New("node not found")
	ErrInvalidNodeType   = errors.New("invalid node type")
	ErrToolNotExecutable = errors.New("tool has no executor")
)
