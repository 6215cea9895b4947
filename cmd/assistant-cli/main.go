// Command assistant-cli talks to the school assistant from a terminal.
//
// Usage:
//
//	assistant-cli chat            interactive conversation
//	assistant-cli ask "<pregunta>" single question
//	assistant-cli seed --count 200 create a demo database
package main

import (
	"fmt"
	"os"

	"github.com/noah-isme/sma-adp-assistant/cmd/assistant-cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
