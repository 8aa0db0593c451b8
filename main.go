package main

import "github.com/studyhive/studyhive-cli/cmd"

func main() {
	cmd.Execute()
}
