package main

import (
	"go-rom-boxart/cmd/rom-boxart/cmd"
)

func main() {
	cmd.Execute()
}
