package memutils

// Validatable is implemented by any type whose internal consistency can be
// checked on demand. DebugValidate uses it to turn the invariants
// documented on a type into a panic in debug builds.
type Validatable interface {
	Validate() error
}
