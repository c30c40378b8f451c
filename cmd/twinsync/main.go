// Command twinsync keeps a local directory and a remote replica in sync.
package main

import (
	"fmt"
	"os"

	"github.com/steveyegge/twinsync/internal/logging"
)

func main() {
	err := rootCmd.Execute()
	_ = logging.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
