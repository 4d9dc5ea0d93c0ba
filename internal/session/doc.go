// Package session holds the state one FIX session shares across the inbound
// handler chain: sequence counters, the active resend range and its
// out-of-order buffer, typed attributes, and the two message logs.
//
// A Session never decides what to do with an inbound message; the handler
// stages do. It only offers the operations those decisions need: numbered
// and logged sends, rejects, resend requests and disconnects.
//
// Faults raised while handling a message are reported as *Fault. A fatal
// fault ends the session with its DisconnectReason; a non-fatal one has
// already been answered and the session continues.
package session
