package main

import "github.com/opdbt/opdbt/cmd"

func main() {
	cmd.Execute()
}
