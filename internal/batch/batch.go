package batch

import "fmt"

// Failure pairs an item of a best-effort batch with the error it produced.
type Failure[T any] struct {
	Item T
	Err  error
}

func (f Failure[T]) String() string {
	return fmt.Sprintf("%v: %v", f.Item, f.Err)
}

// Result accumulates the outcome of a batch where one item's failure must not
// abort the rest.
type Result[T any] struct {
	Succeeded []T
	Skipped   []T
	Failed    []Failure[T]
}

func (r *Result[T]) Succeed(item T) { r.Succeeded = append(r.Succeeded, item) }

func (r *Result[T]) Skip(item T) { r.Skipped = append(r.Skipped, item) }

func (r *Result[T]) Fail(item T, err error) {
	r.Failed = append(r.Failed, Failure[T]{Item: item, Err: err})
}

// Merge appends other's entries to r.
func (r *Result[T]) Merge(other Result[T]) {
	r.Succeeded = append(r.Succeeded, other.Succeeded...)
	r.Skipped = append(r.Skipped, other.Skipped...)
	r.Failed = append(r.Failed, other.Failed...)
}

func (r Result[T]) Total() int {
	return len(r.Succeeded) + len(r.Skipped) + len(r.Failed)
}

func (r Result[T]) OK() bool { return len(r.Failed) == 0 }
