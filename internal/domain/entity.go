package domain

import "strings"

// EntityType classifies what an entity id refers to.
type EntityType string

const (
	EntityValidator EntityType = "validator"
	EntityTest      EntityType = "test"
	EntityFile      EntityType = "file"
)

// ValidatorEntityID identifies a validator across runs.
func ValidatorEntityID(validator string) string { return validator }

// TestEntityID identifies a test case across runs.
func TestEntityID(testID string) string { return testID }

// FileEntityID identifies a file+validator pair across runs.
func FileEntityID(validator, path string) string { return validator + ":" + path }

// SplitFileEntityID reverses FileEntityID.
func SplitFileEntityID(id string) (validator, path string, ok bool) {
	return strings.Cut(id, ":")
}
