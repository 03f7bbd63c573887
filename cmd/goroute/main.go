// Command goroute runs message routes declared in a YAML file.
package main

import (
	"os"

	"github.com/fxsml/goroute/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
