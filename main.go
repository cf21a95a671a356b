package main

import (
	"soundroom/cmd"
)

func main() {
	cmd.Execute()
}
