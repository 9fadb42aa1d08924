// Package cmd wires the cloudhaul CLI commands. Commands are thin: they load
// configuration, build the authenticator, and call its public surface.
package cmd
