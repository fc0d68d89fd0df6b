// Command voide validates, schedules and observes voide flow canvases.
//
// Usage:
//
//	voide validate flow.json
//	voide order flow.yaml
//	voide run flow.json --input in.text=hello
//	voide telemetry watch
//
// Configuration is layered: defaults, then the --config file, then VOIDE_*
// environment variables, then flags.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "voide:", err)
		}
		os.Exit(1)
	}
}
