// mdltool pulls, inspects and manages models in a local Ollama-layout
// model store.
package main

import (
	"os"

	"github.com/docker/model-distribution/cmd/mdltool/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
