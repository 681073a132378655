// Package main is the single-binary entrypoint for the hydroponics
// telemetry gateway.
package main

import "github.com/hydroloop/gateway/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
