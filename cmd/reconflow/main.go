// Package main provides the entry point for the reconflow CLI.
//
// reconflow coordinates a pipeline of independent worker processes that
// discover and enrich data about a target. Workers fan out over a durable
// event stream; reconflow resolves module dependencies, launches the
// producer and its consumers, and decides completion from the job status
// store alone.
//
// Usage:
//
//	reconflow run <target> --modules subdomain_discovery,port_scan
//	reconflow modules
//	reconflow status <run-id>
//
// See --help for all available options.
package main

// main is the entry point for reconflow.
func main() {
	Execute()
}
