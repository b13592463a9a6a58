package main

import "github.com/fnyamweya/caricash-nova-sub003/internal/cli"

func main() {
	cli.Execute()
}
