// # cmd/semcache/main.go
package main

import (
	"os"
	"semcache/internal/ui/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
