package main

import "codesmith/cmd"

func main() {
	cmd.Execute()
}
