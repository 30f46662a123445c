package main

import "github.com/txnest/txnest/cmd/txnest/command"

func main() {
	command.Execute()
}
