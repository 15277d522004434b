package main

import "github.com/oshokin/debpack/cmd/debpack/cmd"

func main() {
	cmd.Execute()
}
