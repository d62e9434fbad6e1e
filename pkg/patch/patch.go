// Package patch implements the merge engine used to compose descriptions.
//
// A patch is a partial update of a value. Scalars and optional fields are
// overridden when the patch sets them, lists are mutated by an ordered
// command sequence and maps are merged key by key. Applying a patch never
// fails and never writes through references shared with the base: maps and
// slices are copied before they are modified.
package patch

// Patcher updates a value of type T in place.
type Patcher[T any] interface {
	Apply(base *T)
}

// Func adapts a function to the Patcher interface.
type Func[T any] func(base *T)

// Apply calls f(base).
func (f Func[T]) Apply(base *T) {
	f(base)
}

// Merge applies the patches to base, left to right, and returns the result.
// Nil patches are skipped.
func Merge[T any](base T, patches ...Patcher[T]) T {
	for _, p := range patches {
		if p != nil {
			p.Apply(&base)
		}
	}
	return base
}

// Chain is a sequence of patches applied in order. Merging two patches is
// chaining them: later patches see the result of earlier ones.
type Chain[T any] []Patcher[T]

// Apply applies every patch of the chain in order.
func (c Chain[T]) Apply(base *T) {
	for _, p := range c {
		if p != nil {
			p.Apply(base)
		}
	}
}

// State records whether an optional field was present in a patch document.
type State uint8

const (
	// Absent leaves the base value untouched.
	Absent State = iota
	// Null clears the base value.
	Null
	// Present overrides the base value.
	Present
)

// Opt is a tri-state scalar patch: absent, null or a value.
type Opt[T any] struct {
	State State
	Value T
}

// Set returns an Opt carrying v.
func Set[T any](v T) Opt[T] {
	return Opt[T]{State: Present, Value: v}
}

// Clear returns a null Opt.
func Clear[T any]() Opt[T] {
	return Opt[T]{State: Null}
}

// IsAbsent reports whether the patch leaves the value untouched.
func (o Opt[T]) IsAbsent() bool {
	return o.State == Absent
}

// Apply overrides base with the value, or resets it to the zero value when
// null.
func (o Opt[T]) Apply(base *T) {
	switch o.State {
	case Null:
		var zero T
		*base = zero
	case Present:
		*base = o.Value
	}
}

// Nested is a patch of an optional struct held by pointer. When present,
// its patch is merged field by field onto a copy of the base, starting from
// the zero value when the base is nil. When null the pointer is cleared.
type Nested[T any] struct {
	State State
	Patch Patcher[T]
}

// Some returns a present Nested patch.
func Some[T any](p Patcher[T]) Nested[T] {
	return Nested[T]{State: Present, Patch: p}
}

// Apply implements Patcher[*T].
func (n Nested[T]) Apply(base **T) {
	switch n.State {
	case Null:
		*base = nil
	case Present:
		var v T
		if *base != nil {
			v = **base
		}
		if n.Patch != nil {
			n.Patch.Apply(&v)
		}
		*base = &v
	}
}
