package main

import "github.com/example/resale-repricer/cmd"

func main() {
	cmd.Execute()
}
