package main

import "lsfleet-agent/cmd/agent/cmd"

func main() {
	cmd.Execute()
}
