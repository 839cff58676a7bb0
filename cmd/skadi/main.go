/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/ssargent/skadidb/cmd/skadi/cmd"

func main() {
	cmd.Execute()
}
