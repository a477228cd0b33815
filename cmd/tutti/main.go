// Command tutti runs coding-agent batches against a task backlog.
package main

import (
	"os"

	"github.com/Iron-Ham/tutti/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
