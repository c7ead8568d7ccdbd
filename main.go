package main

import "fwdetect/cmd"

func main() {
	cmd.Execute()
}
