// Package api exposes the wallet session over HTTP: reading the session,
// connecting and disconnecting, driving the in-process injected wallet and
// scraping metrics.
package api
