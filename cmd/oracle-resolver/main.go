package main

import "oracle-resolver/internal/cli"

func main() {
	cli.Execute()
}
