package main

import (
	"context"
	"os"

	"github.com/okian/paddock/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		// cobra has already printed the error.
		os.Exit(1)
	}
}
