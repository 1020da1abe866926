package main

import "github.com/kozaktomas/face-batch/cmd"

func main() {
	cmd.Execute()
}
