// Package handler implements the inbound handler chain of a FIX session.
//
// ARCHITECTURE:
//
// A Chain owns an ordered, immutable list of stages. Process parses one raw
// message and hands it to each stage in turn until a stage stops it or
// raises a fault. A message that clears every stage is logged to the
// inbound log and, unless it is an admin message, delivered to the
// application.
//
// Stage order (DefaultStages):
//  1. framing: header order, BodyLength, CheckSum, MsgSeqNum
//  2. version: BeginString matches the session
//  3. logon-gate: nothing but a Logon before the session is established
//  4. comp-id: SenderCompID/TargetCompID mirror ours
//  5. sending-time: SendingTime within tolerance of our clock
//  6. possdup: PossDupFlag messages carry a sane OrigSendingTime
//  7. sequence: gap arbitration, the only stage that moves the inbound counter
//  8. throttle: per-MsgType rate limits over fixed windows
//  9. resend-request, test-request, sequence-reset, logon, logout
//
// Stages never call each other. They communicate only through the session:
// its counters, resend coordinator and transient attributes.
//
// Fatal faults force a disconnect and are returned from Process. Non-fatal
// faults have already been answered with a Reject; they reach the observer
// and Process returns nil.
//
// Thread-safety: a Chain is driven from one goroutine, the connection's
// reader.
package handler
