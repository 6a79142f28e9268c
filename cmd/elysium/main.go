package main

import "github.com/tartarus-sandbox/elysium/cmd/elysium/cmd"

func main() {
	cmd.Execute()
}
