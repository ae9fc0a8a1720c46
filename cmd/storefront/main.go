package main

import (
	"context"
	"fmt"
	"os"

	"github.com/seventeenk/storefront/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "storefront:", err)
		os.Exit(1)
	}
}
