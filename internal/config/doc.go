// Package config loads the walletd start-up configuration from a JSON file
// and fills in defaults for everything the operator left out.
package config
