package main

import "github.com/rashmirrout/pilotdesk/cmd"

func main() {
	cmd.Execute()
}
