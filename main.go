package main

import "github.com/construct-dev/construct/internal/cli"

func main() {
	cli.Execute()
}
