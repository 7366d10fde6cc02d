// Package platform defines the messaging-platform boundary the bot talks to:
// the outbound operations it needs, the inbound events it consumes, and the
// error taxonomy every adapter maps its failures into.
package platform
