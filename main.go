package main

import (
	"fmt"
	"os"

	"github.com/wasmforge/kernel/cmd"
)

func main() {
	if err := cmd.Command(nil).Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
