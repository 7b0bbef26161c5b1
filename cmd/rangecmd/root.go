package rangecmd

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/hkv/cmd/util"
	"github.com/ValentinKolb/hkv/lib/store/volume"
	"github.com/spf13/cobra"
)

var (
	// RangeCommands represents the command group that works across all data types
	RangeCommands = util.StoreCommand(&cobra.Command{
		Use:   "range",
		Short: "Scan or delete keys of all data types in a key range",
	})

	scanCmd = &cobra.Command{
		Use:   "scan [start] [end]",
		Short: "Prints every key in [start, end] with its type and volume",
		Long:  util.WrapString("Prints the keys of all data types in byte order. Keys that exist with more than one type are printed once per type."),
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end := bounds(args)
			limit, _ := cmd.Flags().GetInt("limit")
			snapshot, _ := cmd.Flags().GetBool("snapshot")

			it, err := util.Store().Volume(start, end, limit, snapshot)
			if err != nil {
				return err
			}
			defer it.Close()

			var total int64
			for ; it.Valid(); it.Next() {
				total += it.Volume()
				fmt.Printf("%-5s %s volume=%d\n", it.Type(), util.Quote(it.Key()), it.Volume())
			}
			if err := it.Err(); err != nil {
				return err
			}
			fmt.Printf("total volume=%d\n", total)
			return nil
		},
	}

	delCmd = &cobra.Command{
		Use:   "del [start] [end]",
		Short: "Deletes every key in [start, end] of all data types",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end := bounds(args)
			limit, _ := cmd.Flags().GetInt("limit")

			deleted, err := util.Store().RangeDelete(start, end, limit)
			fmt.Printf("deleted=%d\n", deleted)

			var rangeErr *volume.RangeError
			if errors.As(err, &rangeErr) {
				return fmt.Errorf("stopped at %s %q, run again to resume: %w", rangeErr.Type, rangeErr.Key, rangeErr.Err)
			}
			return err
		},
	}
)

func init() {
	RangeCommands.AddCommand(scanCmd)
	RangeCommands.AddCommand(delCmd)

	scanCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of keys to print (0 for no limit)"))
	scanCmd.Flags().Bool("snapshot", false, util.WrapString("Read from a point in time snapshot"))
	delCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of keys to delete (0 for no limit)"))
}

// bounds maps the optional positional arguments to scan bounds. Empty means unbounded.
func bounds(args []string) (start, end []byte) {
	if len(args) > 0 && args[0] != "" {
		start = []byte(args[0])
	}
	if len(args) > 1 && args[1] != "" {
		end = []byte(args[1])
	}
	return start, end
}
