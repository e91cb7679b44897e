// Package server serves tickchat over HTTP: one WebSocket per user at
// /ws/{username}, plus a small JSON API for checking users, loading and
// deleting history and summarizing conversations.
//
// Each connection is a Session with a read pump that dispatches client
// events to the delivery coordinator and a write pump that drains the
// session's outbound queue, one JSON event per frame. Server tracks the
// sessions so Shutdown can close them and wait for their goroutines.
package server
