// Package terminal implements the process-supervision core: interactive
// shell sessions multiplexed over a detachable transport, with an optional
// forwarded sidecar program per session.
//
// Components:
//   - Handle: one OS child process (shell under a PTY, or a piped program)
//   - Ring: bounded, insertion-ordered output history for reconnect replay
//   - Terminate: signal-escalation state machine guaranteeing process death
//   - ForwardSupervisor: spawn/relay/classify/restart of the sidecar program
//   - Session: identity + processes + output history + transport binding
//   - Manager: the session registry, event routing and the stale-session reaper
//
// Concurrency model: each session's PTY reader is a single goroutine and all
// mutation of a session's fields happens under that session's mutex. Sessions
// are fully independent; the registry map has its own lock. A transport is a
// weak reference (identifier plus directory lookup) and is never owned by a
// session.
//
// Input interception: the line commands ".status" and ".restart" are consumed
// by the session instead of being written to the shell, and a lone interrupt
// byte (0x03) is redirected to the forwarded process group when one is live.
package terminal
