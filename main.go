package main

import (
	"github.com/luma/beacon/cmd"
)

func main() {
	cmd.Execute()
}
