// Package ratelimit limits admin API requests.
//
// Each client address gets a token bucket refilled at RequestsPerSecond
// with room for Burst requests; buckets live in an LRU bounded by
// MaxClients. MaxConcurrent caps in-flight requests across all clients.
// Rejected requests get 429 with a Retry-After header.
//
//	server:
//	  rate_limit:
//	    requests_per_second: 5
//	    burst: 10
//	    max_concurrent: 4
package ratelimit
