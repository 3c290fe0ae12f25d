package catalog

import (
	"fmt"
	"strings"
)

// NotFoundError is returned when a template name, chassis number or host name
// resolves to nothing.
type NotFoundError struct {
	Kind string
	Keys []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, strings.Join(e.Keys, ", "))
}

// DuplicateNameError is returned when a key that must be unique matches more
// than one catalog record.
type DuplicateNameError struct {
	Kind string
	Key  string
	IDs  []string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s %q is ambiguous: matches %s", e.Kind, e.Key, strings.Join(e.IDs, ", "))
}

// NameTakenError is returned when a name to be created already exists on the
// controller.
type NameTakenError struct {
	Kind string
	Name string
	ID   string
}

func (e *NameTakenError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s name %q is already taken", e.Kind, e.Name)
	}
	return fmt.Sprintf("%s name %q is already taken by %s", e.Kind, e.Name, e.ID)
}
