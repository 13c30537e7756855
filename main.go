package main

import "github.com/packsmith/packsmith/cmd"

func main() {
	cmd.Execute()
}
