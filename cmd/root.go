package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/hkv/cmd/dbcmd"
	"github.com/ValentinKolb/hkv/cmd/hash"
	"github.com/ValentinKolb/hkv/cmd/kv"
	"github.com/ValentinKolb/hkv/cmd/rangecmd"
	"github.com/ValentinKolb/hkv/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "hkv",
		Short: "embedded multi-type key-value store",
		Long: fmt.Sprintf(`hkv (v%s)

An embedded key-value store written in Go that keeps hashes,
plain keys and other collection types on one ordered storage
engine (maple, pebble or bolt).`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of hkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hkv v%s\n", Version)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(hash.HashCommands)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(rangecmd.RangeCommands)
	RootCmd.AddCommand(dbcmd.DBCommands)
	RootCmd.AddCommand(dbcmd.StatsCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupStoreFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	err := RootCmd.Execute()
	if closeErr := util.CloseStore(); err == nil && closeErr != nil {
		fmt.Fprintln(os.Stderr, "Error:", closeErr)
		err = closeErr
	}
	if err != nil {
		os.Exit(1)
	}
}
