package main

import (
	"os"

	"nexrt/internal/cli"
)

func main() { os.Exit(cli.Main()) }
