package errs

import (
	"errors"
	"slices"
)

// Aggregate collects per-sub-I/O errors observed while a fibril group or
// a stripe plan was in flight. A client never sees these individually —
// group_wait and the planner fold them into one volume-level error
// before returning (spec.md §7 "Propagation").
type Aggregate struct {
	errs []error
}

func (a *Aggregate) Error() string {
	var s string
	for i, err := range a.errs {
		if i > 0 {
			s += "; "
		}
		s += err.Error()
	}
	return s
}

func (a *Aggregate) Unwrap() []error { return a.errs }

func (a *Aggregate) Errors() []error { return a.errs }

func (a *Aggregate) Is(target error) bool {
	for _, e := range a.errs {
		if errors.Is(e, target) {
			return true
		}
	}
	return false
}

func (a *Aggregate) As(target any) bool {
	for _, e := range a.errs {
		if errors.As(e, target) {
			return true
		}
	}
	return false
}

// Append folds errs into err, returning a single error. A nil err with
// no errs returns nil (the common "no failures yet" case in a wait
// loop). Appending to a non-aggregate error wraps it into a fresh
// Aggregate rather than discarding it.
func Append(err error, errs ...error) error {
	nonNil := make([]error, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}

	if err == nil {
		switch len(nonNil) {
		case 0:
			return nil
		case 1:
			return nonNil[0]
		default:
			return &Aggregate{errs: nonNil}
		}
	}

	if len(nonNil) == 0 {
		return err
	}

	var agg *Aggregate
	if errors.As(err, &agg) {
		return &Aggregate{errs: append(slices.Clone(agg.errs), nonNil...)}
	}

	return &Aggregate{errs: append([]error{err}, nonNil...)}
}
