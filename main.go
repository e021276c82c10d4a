package main

import "github.com/locsim/ddfetch/cmd"

func main() {
	cmd.Execute()
}
