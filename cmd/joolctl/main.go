// joolctl -- CLI client for the jool-go translator daemon.
package main

import (
	"github.com/jool-go/jool/cmd/joolctl/commands"
)

func main() {
	commands.Execute()
}
