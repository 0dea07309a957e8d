package main

import "github.com/CosmoTheDev/dupescan-agent/cmd"

func main() {
	cmd.Execute()
}
