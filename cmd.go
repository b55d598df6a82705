// Package main is responsible for the main func of connectgate.  The actual
// work is done in the cmd package.
package main

import "github.com/ameshkov/connectgate/internal/cmd"

func main() {
	cmd.Main()
}
