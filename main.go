package main

import "github.com/crossgate/crossgate/cmd"

func main() {
	cmd.Execute()
}
