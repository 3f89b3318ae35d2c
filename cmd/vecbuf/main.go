// Command vecbuf ingests vectors into write buffers and inspects the
// segments and checkpoints they are flushed to.
package main

import (
	"os"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
