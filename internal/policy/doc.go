// Package policy classifies upstream hosts for the call client and the local
// relay.
//
// Both talk HTTPS to a call-creation endpoint. Endpoints on the local machine
// or a private network usually present self-signed certificates, so TLS
// verification is relaxed for exactly those hosts and never for public ones.
// Classification works on parsed IP addresses against explicit CIDR tables.
package policy
