// Package naming validates the hierarchical names given to threads, clock
// domains and clockables.
package naming

// Named describes an object that has a name.
type Named interface {
	// Name returns the name of the object.
	Name() string
}

// NamedBase is a base implementation of Named.
type NamedBase struct {
	name string
}

// Name returns the name of the object.
func (b *NamedBase) Name() string {
	return b.name
}

// MakeNamedBase creates a new NamedBase after checking the name.
func MakeNamedBase(name string) NamedBase {
	NameMustBeValid(name)

	return NamedBase{name: name}
}
