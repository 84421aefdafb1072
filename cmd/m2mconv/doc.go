// Package main hosts the m2mconv CLI entrypoint and command graph.
//
// The Cobra command tree probes converter devices, runs image batches through
// the conversion pipeline, browses the run journal and scaffolds
// configuration. Configuration resolution and logger setup live in the
// command context so subcommands only render results.
package main
