// Package local implements an in-process native peer.
//
// Functions are Go handlers bound to ordinals. Typed helpers decode the
// arguments and encode the result with the peer's own codec cache:
//
//	p := local.New()
//	local.Func1(p, 7, "length", func(ctx context.Context, _ *local.Call, s string) (uint64, error) {
//	    return uint64(len(s)), nil
//	})
//
// Objects stored with NewObject are reference counted and released through
// the resource.Releaser methods, which makes the peer usable for handle
// ownership tests and examples.
package local
