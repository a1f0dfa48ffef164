package main

import "github.com/jmcleod/bastion/cmd/bastion/cmd"

func main() {
	cmd.Execute()
}
