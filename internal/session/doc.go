// Package session coordinates one wallet connection at a time. The Store
// holds the published session (client, account, chain id) and notifies
// subscribers of changes; the Subscriber folds provider events into the
// Store; the Controller sequences connect and disconnect.
//
// The three session fields are published and cleared together. Account and
// chain id updates coming from provider events only apply while the client
// that produced them is the published one.
package session
