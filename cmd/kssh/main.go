package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kssh-dispatch/dispatch/internal/cli"
)

func main() {
	root := cli.BuildCLI()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
