package main

import "github.com/kgiusti/tokencore/cmd"

func main() {
	cmd.Execute()
}
