package main

import "github.com/papapumpkin/assasdb/cmd"

func main() {
	cmd.Execute()
}
