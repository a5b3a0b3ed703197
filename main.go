package main

import "github.com/nextlevelbuilder/companionrt/cmd"

func main() {
	cmd.Execute()
}
