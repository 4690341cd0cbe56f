package fn

// Map applies the given mapping function to each element of the given slice
// and generates a new slice.
func Map[I, O any, S []I](s S, f func(I) O) []O {
	output := make([]O, len(s))

	for i, x := range s {
		output[i] = f(x)
	}

	return output
}

// Filter applies the given predicate function to each element of the given
// slice and generates a new slice containing only the elements for which the
// predicate returned true.
func Filter[T any](s []T, f func(T) bool) []T {
	output := make([]T, 0, len(s))

	for _, x := range s {
		if f(x) {
			output = append(output, x)
		}
	}

	return output
}

// Reducer represents a function that takes an accumulator and the value, then
// returns a new accumulator.
type Reducer[T, V any] func(accum T, value V) T

// Reduce takes a slice of something, and a reducer, and produces a final
// accumulated value.
func Reduce[T any, V any, S []V](s S, f Reducer[T, V]) T {
	var accum T

	for _, x := range s {
		accum = f(accum, x)
	}

	return accum
}

// Any returns true if the passed predicate returns true for any element of
// the given slice.
func Any[T any](s []T, f func(T) bool) bool {
	for _, x := range s {
		if f(x) {
			return true
		}
	}

	return false
}

// First returns the first element of the given slice for which the passed
// predicate returns true.
func First[T any](s []*T, f func(*T) bool) (*T, error) {
	for _, x := range s {
		if f(x) {
			return x, nil
		}
	}

	return nil, ErrNotFound
}
