package main

import (
	"github.com/sidkik/deploy/cmd"
	"github.com/sidkik/deploy/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
