// Package event provides typed signals and subscription bookkeeping.
//
// A Signal delivers values synchronously to connected handlers. Every
// Connect returns a Subscription; cancelling it detaches the handler.
//
// # Subscription Registry
//
// Components that wire many handlers across their lifetime record the
// subscriptions in a Registry, grouped by owner:
//
//	reg := event.NewRegistry()
//	reg.Add("nb#py", doc.Changed.Connect(onChanged))
//	reg.Add("nb#py", doc.ForeignOpened.Connect(onOpened))
//
//	// tear down one document's handlers
//	reg.CancelGroup("nb#py")
//
//	// tear down everything
//	reg.Close()
//
// Handlers must not assume they run on any particular goroutine other than
// the emitter's.
package event
