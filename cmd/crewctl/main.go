package main

import "github.com/crewctl/crewctl/internal/cli"

func main() {
	cli.Execute()
}
