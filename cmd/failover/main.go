package main

import "github.com/vietddude/failover/internal/cli"

func main() {
	cli.Execute()
}
