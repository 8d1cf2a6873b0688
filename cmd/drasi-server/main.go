// Command drasi-server is the engine's process entrypoint: it parses the
// CLI flags, loads the declarative config file, wires the
// registry/factory/instance substrate, and serves the REST control plane
// until an interrupt signal requests a graceful shutdown.
//
// Grounded on ipiton-alert-history-service's cobra root-command pattern
// for flag/subcommand structure, and the teacher's cmd/main.go startup
// sequencing and signal.Notify/srv.Shutdown graceful-shutdown idiom.
package main

import (
	"fmt"
	"os"

	"github.com/drasi-project/drasi-server/internal/logger"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatal(msg string, err error) {
	logger.Log.Fatal().Err(err).Msg(msg)
}
