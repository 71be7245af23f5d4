package main

import "nexqa/internal/cli"

func main() {
	cli.Execute()
}
