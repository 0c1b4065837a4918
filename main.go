package main

import "github.com/CosmoTheDev/codeloop-agent/cmd"

func main() {
	cmd.Execute()
}
