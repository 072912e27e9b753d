package main

import "github.com/devskyy/mcpfleet/internal/cli"

func main() {
	cli.Execute()
}
