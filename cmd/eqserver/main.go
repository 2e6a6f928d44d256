// Command eqserver is the campus equipment management backend: the
// connection-and-protocol multiplexer that equipment simulators and
// operator desktop clients both connect to.
//
// Usage:
//
//	eqserver serve [flags]
//	eqserver migrate [flags]
//
// Flags (serve; each also settable via an EQSERVER_* environment variable
// or an eqserver.yaml config file, precedence flags > env > file > default):
//
//	--listen string               TCP listen address (default ":9000")
//	--db string                   SQLite database path (default "eqserver.db")
//	--heartbeat-timeout duration  I4/supervisor timeout (default "60s")
//	--max-frame int               Maximum frame body size (default 65536)
//	--maintenance-interval duration  Supervisor tick period (default "1s")
//	--log-level string            zerolog level (default "info")
package main

import (
	"fmt"
	"os"

	"github.com/campushub/eqserver/cmd/eqserver/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
