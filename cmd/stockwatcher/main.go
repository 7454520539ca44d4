package main

import "stockwatcher/internal/cli"

func main() {
	cli.Execute()
}
