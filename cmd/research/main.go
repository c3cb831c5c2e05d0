package main

import (
	"errors"
	"fmt"
	"os"

	"research/internals/researcher"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, researcher.ErrCancelled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
