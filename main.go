package main

import "github.com/netlens/netlens/cmd"

func main() {
	cmd.Execute()
}
