package main

import "github.com/mpetrunic88/webrover/cmd"

func main() {
	cmd.Execute()
}
