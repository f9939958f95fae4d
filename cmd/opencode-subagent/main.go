package main

import "github.com/agusx1211/opencode-subagent/internal/cli"

func main() {
	cli.Execute()
}
