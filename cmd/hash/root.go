package hash

import (
	"github.com/ValentinKolb/hkv/cmd/util"
	"github.com/spf13/cobra"
)

// HashCommands represents the hash command group
var HashCommands = util.StoreCommand(&cobra.Command{
	Use:   "hash",
	Short: "Perform hash operations",
	Long: util.WrapString(`Hashes are collections of field value pairs stored under a single key.
All fields of a hash share the expiration of the hash.`),
})

func init() {
	// Add subcommands
	HashCommands.AddCommand(hsetCmd)
	HashCommands.AddCommand(hsetnxCmd)
	HashCommands.AddCommand(hgetCmd)
	HashCommands.AddCommand(hexistsCmd)
	HashCommands.AddCommand(hdelCmd)
	HashCommands.AddCommand(hclearCmd)
	HashCommands.AddCommand(hgetallCmd)
	HashCommands.AddCommand(hkeysCmd)
	HashCommands.AddCommand(hvalsCmd)
	HashCommands.AddCommand(hlenCmd)
	HashCommands.AddCommand(hstrlenCmd)
	HashCommands.AddCommand(hincrbyCmd)
	HashCommands.AddCommand(hincrbyfloatCmd)
	HashCommands.AddCommand(hexpireCmd)
	HashCommands.AddCommand(hexpireatCmd)
	HashCommands.AddCommand(httlCmd)
	HashCommands.AddCommand(hpersistCmd)
	HashCommands.AddCommand(hscanCmd)
	HashCommands.AddCommand(hcheckCmd)

	// Add flags
	hscanCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of fields to print (0 for no limit)"))
	hscanCmd.Flags().Bool("snapshot", false, util.WrapString("Read from a point in time snapshot"))
	hcheckCmd.Flags().Bool("repair", false, util.WrapString("Rewrite the meta record if the stored counters are wrong"))
}
