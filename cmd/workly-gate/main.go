// Command workly-gate runs the Workly route-protection gateway.
package main

import "github.com/workly/workly-gate/cmd/workly-gate/cmd"

func main() {
	cmd.Execute()
}
