package main

import (
	"mixfm/cmd"
)

func main() {
	cmd.Execute()
}
