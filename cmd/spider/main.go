package main

import (
	"os"

	"github.com/structspider/spider/cmd/spider/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
