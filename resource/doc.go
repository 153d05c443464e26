// Package resource manages opaque native handles and in-process slot tables.
//
// A Handle names a native object the Go side never dereferences. Ownership
// is explicit: Adopt a handle returned by the peer, use it while it is live,
// and Close it when done.
//
//	owned := tracker.Adopt(h)
//	defer owned.Close(ctx)
//
// Close asks the peer how many references remain. With other references
// alive the release is queued instead of issued; Sweep retries the queue.
// A handle that is dropped without Close is queued by the garbage
// collector, so the native call always happens on the owning goroutine
// during Sweep, never on the collector's goroutine.
//
// # Slot Tables
//
// Slots maps generation-tagged IDs to Go values:
//
//	slots := resource.NewSlots[*Object]()
//	id, err := slots.Insert(obj)
//	obj, ok := slots.Get(id)
//	slots.Retain(id)          // refcount 2
//	slots.Drop(id)            // refcount 1
//	obj, freed := slots.Drop(id)
//
// An ID whose slot was freed never resolves again, even after the slot is
// reused.
//
// # Observers
//
// Subscribe to track handle lifecycle events:
//
//	unsubscribe := tracker.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    log.Printf("%s %s", e.Type, e.Handle)
//	}))
package resource
