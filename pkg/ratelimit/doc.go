// Package ratelimit tracks the remaining call quota for one external API
// inside a rolling time window.
package ratelimit
