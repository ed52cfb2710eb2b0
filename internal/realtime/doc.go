// Package realtime drives one WebRTC call against a realtime conversational
// endpoint (OpenAI or RTAV).
//
// RunCall negotiates the peer connection through the HTTP calls endpoint,
// configures the session over the "realtime" data channel, sends one user
// message and streams the response until it completes, fails or times out.
// All inbound notifications are funneled into a single goroutine, so Call's
// state machine never runs concurrently with itself.
package realtime
