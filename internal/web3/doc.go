// Package web3 houses the wallet connectivity vocabulary shared by the session
// layer: the raw provider handle variants, the uniform client interface the
// session talks to, provider-originated events, and the YAML provider backend
// definitions loaded at start-up.
package web3
