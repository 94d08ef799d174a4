// Package main is the entry point for the sonar radar server.
package main

import (
	"os"

	"github.com/askwhyharsh/sonar/cmd/sonar/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
