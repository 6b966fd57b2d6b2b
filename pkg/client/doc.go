// Package client provides the rate-gated GraphQL client for the external
// contribution API. It is the only component that talks to the remote
// system.
package client
