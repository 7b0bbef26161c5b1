package kv

import (
	"github.com/ValentinKolb/hkv/cmd/util"
	"github.com/spf13/cobra"
)

// KeyValueCommands represents the KV command group
var KeyValueCommands = util.StoreCommand(&cobra.Command{
	Use:   "kv",
	Short: "Perform key-value store operations",
})

func init() {
	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(ttlCmd)
	KeyValueCommands.AddCommand(scanCmd)
	KeyValueCommands.AddCommand(perfTestCmd)

	// Add flags
	setCmd.Flags().Int64("ttl", 0, util.WrapString("Seconds until the key expires (0 for no expiration)"))
	scanCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of keys to print (0 for no limit)"))
	scanCmd.Flags().Bool("snapshot", false, util.WrapString("Read from a point in time snapshot"))
}
