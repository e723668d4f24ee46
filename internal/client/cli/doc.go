// Package cli implements the fides command-line client. Every command opens
// one connection, logs in, performs its action and disconnects. Content is
// sealed on this side; the server stores ciphertext only.
package cli
