package parallel

import "reflect"

// Stream is a lazy, pull-based sequence of argument tuples. Next returns
// the next tuple, or false when the stream is exhausted. Streams are not
// safe for concurrent use; each engine pulls from a single goroutine.
type Stream interface {
	Next() (Args, bool)
}

// StreamFunc adapts a function to the Stream interface.
type StreamFunc func() (Args, bool)

// Next pulls the next tuple from the function.
func (f StreamFunc) Next() (Args, bool) { return f() }

// FromSlice streams each element of items as a one-element argument tuple.
func FromSlice[T any](items []T) Stream {
	i := 0
	return StreamFunc(func() (Args, bool) {
		if i >= len(items) {
			return nil, false
		}
		v := items[i]
		i++
		return Args{v}, true
	})
}

// FromChannel streams each value received from ch as a one-element tuple
// until the channel is closed.
func FromChannel[T any](ch <-chan T) Stream {
	return StreamFunc(func() (Args, bool) {
		v, ok := <-ch
		if !ok {
			return nil, false
		}
		return Args{v}, true
	})
}

// Zip combines a primary stream with auxiliary inputs into one stream of
// tuples (primary..., extra_1, extra_2, ...). An extra that is itself a
// Stream or a slice is cycled, repeating from its start once exhausted,
// to align with the primary's length; any other value is broadcast
// unchanged into every tuple. The result is as lazy and as long as the
// primary.
func Zip(primary Stream, extras ...any) Stream {
	cyclers := make([]func() (any, bool), len(extras))
	for i, extra := range extras {
		cyclers[i] = cycler(extra)
	}
	return StreamFunc(func() (Args, bool) {
		base, ok := primary.Next()
		if !ok {
			return nil, false
		}
		tuple := make(Args, 0, len(base)+len(cyclers))
		tuple = append(tuple, base...)
		for _, next := range cyclers {
			v, ok := next()
			if !ok {
				// Empty auxiliary sequence; nothing to cycle.
				return nil, false
			}
			tuple = append(tuple, v)
		}
		return tuple, true
	})
}

// cycler returns a generator for one auxiliary input: cycled for streams
// and slices, repeated for scalars.
func cycler(extra any) func() (any, bool) {
	if src, ok := extra.(Stream); ok {
		return cycleStream(src)
	}
	rv := reflect.ValueOf(extra)
	if extra != nil && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
		n := rv.Len()
		i := 0
		return func() (any, bool) {
			if n == 0 {
				return nil, false
			}
			v := rv.Index(i % n).Interface()
			i++
			return v, true
		}
	}
	return func() (any, bool) { return extra, true }
}

// cycleStream drains src lazily, remembering seen values so the sequence
// can repeat once the underlying stream is exhausted. One-element tuples
// cycle as their bare value.
func cycleStream(src Stream) func() (any, bool) {
	var seen []any
	exhausted := false
	i := 0
	return func() (any, bool) {
		if !exhausted {
			if args, ok := src.Next(); ok {
				var v any
				if len(args) == 1 {
					v = args[0]
				} else {
					v = args
				}
				seen = append(seen, v)
				return v, true
			}
			exhausted = true
		}
		if len(seen) == 0 {
			return nil, false
		}
		v := seen[i%len(seen)]
		i++
		return v, true
	}
}
