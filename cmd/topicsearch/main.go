// Package main is the topicsearch entrypoint. See the cmd package for the
// available subcommands.
package main

import "github.com/JakeFAU/topical-search/cmd"

func main() {
	cmd.Execute()
}
