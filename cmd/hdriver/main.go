package main

import "github.com/hipercam/hdriver/internal/cli"

func main() {
	cli.Execute()
}
