package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ma12/companion-api/pkg/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
