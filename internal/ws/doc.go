// Package ws binds terminal sessions to WebSocket transports.
//
// Each connection gets an opaque transport identifier and is registered in
// a Directory; sessions reference transports only through that identifier,
// so a connection going away never tears a session down; it only detaches.
//
// Message Types (Client → Server):
//   - create-session: Spawn a shell session (optionally with a forwarded program)
//   - input: Raw bytes for the session's stdin
//   - resize: Terminal geometry change
//   - close: Tear the session down
//   - reconnect: Rebind a detached session and replay its output history
//   - rename: Change the session's label
//   - ping: Keep-alive ping
//
// Message Types (Server → Client):
//   - session-created: Session is up
//   - output: Raw output chunk (historical=true for the replay batch)
//   - exit: Primary process exited
//   - resized: Geometry change applied
//   - closed: Session removed
//   - error: Request-level failure
//
// Example Usage:
//
//	dir := ws.NewDirectory()
//	handler := ws.NewHandler(manager, dir, logger, metrics)
//	router.GET("/ws", handler.HandleConnection)
package ws
