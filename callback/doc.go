// Package callback lets a native peer call back into Go.
//
// A closure is registered in a context-owned Table and crosses the boundary
// as a plain integer ID. The peer hands the ID and an argument buffer to the
// trampoline, Table.Invoke, which runs the closure synchronously on the
// calling goroutine and returns a tagged Status. Errors and panics are kept
// on the Record, never unwound through native frames, so the caller can
// return them unchanged once the native call completes:
//
//	rec, err := table.Register(func(ctx context.Context, arg []byte) error {
//	    return handle(arg)
//	})
//	defer rec.Release()
//	... pass rec.ID() to the peer ...
//	if err := rec.Err(); err != nil {
//	    return err
//	}
//
// IDs carry a slot generation, so an ID used after Release reports
// StatusUnknown instead of reaching a newer closure.
package callback
