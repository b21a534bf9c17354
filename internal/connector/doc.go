// Package connector is the provider-selection mechanism behind a wallet
// session. A Registry is initialised once per process with the ordered list
// of provider backends; each Connect asks a Selector (or the cached previous
// choice) which backend to use and returns its raw provider handle.
package connector
