package render

import (
	"errors"
	"fmt"
)

// Sentinel errors for the renderer.
var (
	ErrEmptyTemplate   = errors.New("template is empty")
	ErrNoVariables     = errors.New("recipient has no variables")
	ErrMissingVariable = errors.New("missing variable")
)

// MissingVariableError names the placeholder that could not be resolved
// and the template part it appeared in.
type MissingVariableError struct {
	Name  string
	Field string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("missing variable %q in %s", e.Name, e.Field)
}

// Is lets errors.Is match ErrMissingVariable.
func (e *MissingVariableError) Is(target error) bool { return target == ErrMissingVariable }
