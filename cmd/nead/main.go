package main

import "github.com/q-controller/nea-supervisor/cmd/nead/cmd"

func main() {
	cmd.Execute()
}
