// AgentDock deploys trained conversational agents onto messaging and
// publishing platforms.
//
// Commands:
//   - serve: HTTP API, inbound webhooks and an in-process job worker
//   - worker: job worker only (redis or kafka queue backends)
//   - deploy: activate one deployment synchronously
//   - version
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
