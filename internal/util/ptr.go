// Package util holds small shared helpers.
package util

// Ptr returns a pointer to v. Useful for the pointer-field update structs.
func Ptr[T any](v T) *T {
	return &v
}
