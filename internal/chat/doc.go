// Package chat defines the domain model shared by every tickchat component:
// users and their presence, direct messages and their delivery status, and
// the JSON events exchanged with WebSocket clients.
//
// Outbound events are plain structs carrying their own "type" discriminator so
// that each one is self-describing on the wire. Inbound events are parsed and
// validated by ParseInbound before they reach the delivery layer.
package chat
