// Package store is the durable persistence boundary for tickchat. It keeps
// user presence records keyed by username and messages keyed by id.
//
// Every engine is safe for concurrent use. Writes are atomic per document
// (one user, one message); bulk operations such as MarkRead apply each
// document update independently and never move a message status backwards.
package store
