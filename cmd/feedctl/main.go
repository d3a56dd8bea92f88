// feedctl is the operator CLI (component M): small commands for
// inspecting configuration, applying schema migrations, and seeding a
// local social graph for manual testing. It calls only into the same
// config/repository/auth packages the API and worker binaries use —
// no business logic lives here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "feedctl",
	Short: "Operator CLI for the feed system",
	Long: `feedctl manages a feed system deployment outside of the request path:

  - print the resolved configuration
  - apply schema migrations
  - seed a local social graph for manual testing`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
