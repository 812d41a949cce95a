// Package detector owns all access to SLS detector hardware.
//
// Each detector address is served by one Driver. The driver runs a single
// goroutine (the actor) that exclusively owns the hardware handle, and
// exposes a blocking Request call to any number of callers over two
// bounded channels.
//
// # Architecture
//
//	caller ──Request──► [request chan, 4 slots] ──► actor ──► Hardware
//	caller ◄─────────── [reply chan, 4 slots]   ◄── actor
//
// Before serving, the actor retries opening the hardware handle every poll
// interval until the handle reports exactly one sub-detector. Requests sent
// while it is still connecting queue up and time out from the caller's
// point of view; the actor answers them once it is serving and the next
// Request flushes those stale replies.
//
// # Messages
//
// Message is the envelope carried on both channels: a Command plus a typed
// payload (None, Int32, Int64, Float64 or String). Accessors never read a
// variant other than the active one:
//
//	msg := detector.Int32Message(detector.WritePowerChip, 1)
//	reply := drv.Request(msg, time.Second)
//	if reply.Command() != detector.Ok {
//	    // Failed, Error, Invalid or Timeout
//	}
//
// # Error Classes
//
//   - Ok: the hardware call succeeded
//   - Failed: the call failed for this address only; its error mask was cleared
//   - Invalid: command and payload kind do not match any operation
//   - Error: no handle, shared-connection failure or a malformed reply
//   - Timeout: no reply within the caller's budget
//
// Callers that see Timeout or Error should treat the address as
// disconnected; the actor never reconnects on its own once serving.
package detector
