package main

import "labsales/internal/adapters/cli"

func main() {
	cli.Execute()
}
