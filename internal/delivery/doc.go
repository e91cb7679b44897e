// Package delivery owns the message lifecycle and every cross-user
// notification.
//
// The Coordinator applies the sent → delivered → read state machine, writes
// to the store, then asks the presence registry who can be reached. Store
// writes made on behalf of an accepted event are detached from the caller's
// cancellation: a message that was delivered stays delivered even if the
// recipient disconnects a moment later.
package delivery
