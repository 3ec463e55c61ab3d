// Command tsdbctl serves, inspects, and migrates a sqlite-persist database
// file: "tsdbctl serve" hosts the runtime bridge over a websocket, "tsdbctl
// inspect" dumps collection and index metadata as JSON, and "tsdbctl
// migrate" bootstraps the internal schema ahead of time.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRunner().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
