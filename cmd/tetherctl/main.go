// tetherctl is the CLI client for the tetherd daemon.
package main

import "github.com/dantte-lp/tetherd/cmd/tetherctl/commands"

func main() {
	commands.Execute()
}
