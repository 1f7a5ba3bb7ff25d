// lessond - lesson tooling server
package main

import (
	"os"

	"github.com/ashureev/shsh-lessons/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
