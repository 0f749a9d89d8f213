package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crossgate/crossgate/cmd/crossgated"
	"github.com/crossgate/crossgate/pkg/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "crossgated",
	Short: "Crossgate bridge daemon",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display binary version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version())
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(crossgated.WatchtowerCmd)
	rootCmd.AddCommand(versionCmd)
}
