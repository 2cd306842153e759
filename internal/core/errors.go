package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig = errors.New("invalid flag configuration")
	ErrConfigParse   = errors.New("flag configuration parse failed")
	ErrFlagNotFound  = errors.New("flag not found")
)

// ValidationError reports the first problem found in a configuration tree.
// Field is a dotted path such as "new-ui.targeting[0].operator".
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// ConfigParseError means the source document could not be turned into a tree
// at all. Validation problems in a well-formed document are ValidationErrors.
type ConfigParseError struct {
	Message string
	Err     error
}

func (e *ConfigParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ConfigParseError) Is(target error) bool {
	return target == ErrConfigParse
}

func (e *ConfigParseError) Unwrap() error {
	return e.Err
}

type FlagNotFoundError struct {
	FlagName string
}

func (e *FlagNotFoundError) Error() string {
	return fmt.Sprintf("flag %q not found", e.FlagName)
}

func (e *FlagNotFoundError) Unwrap() error {
	return ErrFlagNotFound
}
