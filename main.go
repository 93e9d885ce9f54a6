// Command aggregatord is the entry point for the real-time analytics
// aggregation service: it wires the cobra command tree defined in
// package cli and executes it.
package main

import (
	"log"
	"os"

	"github.com/pulsegrid/aggregator/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
