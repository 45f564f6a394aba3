// Command wabot runs the WhatsApp keyword auto-responder.
package main

import (
	"fmt"
	"os"

	"github.com/m3rciful/wabot/cmd/wabot/commands"
	"github.com/m3rciful/wabot/core/buildinfo"
)

func main() {
	if err := commands.NewRootCmd(buildinfo.String()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
