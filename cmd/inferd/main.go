package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "inferd",
		Short:   "Offline-first inference cache daemon",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newGatewayCmd(),
		newAskCmd(),
		newCacheCmd(),
		newPreloadCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
