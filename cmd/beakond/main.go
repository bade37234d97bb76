package main

import "github.com/LeJamon/goBeakon/internal/cli"

func main() {
	cli.Execute()
}
