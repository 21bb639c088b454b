package main

import "github.com/canopy-network/fastpath/cmd/cli"

func main() {
	cli.Execute()
}
