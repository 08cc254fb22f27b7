// Package main is the entry point for the memvault storage service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	memvault "github.com/kart-io/memvault/internal/memvault"
)

func main() {
	memvault.NewApp().Run()
}
