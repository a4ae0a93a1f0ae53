package main

import (
	_ "github.com/tanpawarit/multiagent-analyst/pkg/logger/autoload"

	"github.com/tanpawarit/multiagent-analyst/cmd"
)

func main() {
	cmd.Execute()
}
