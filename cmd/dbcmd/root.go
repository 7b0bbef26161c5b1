package dbcmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ValentinKolb/hkv/cmd/util"
	"github.com/spf13/cobra"
)

var (
	// DBCommands represents the command group for the storage substrate itself
	DBCommands = util.StoreCommand(&cobra.Command{
		Use:   "db",
		Short: "Maintain the underlying storage engine",
	})

	dumpCmd = &cobra.Command{
		Use:   "dump [file]",
		Short: "Writes a snapshot of the whole database to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create dump file: %w", err)
			}
			defer file.Close()

			w := bufio.NewWriter(file)
			if err := util.Store().DB().Save(w); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("dumped to %s\n", args[0])
			return file.Sync()
		},
	}

	loadCmd = &cobra.Command{
		Use:   "load [file]",
		Short: "Replaces the database with the contents of a dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open dump file: %w", err)
			}
			defer file.Close()

			if err := util.Store().DB().Load(bufio.NewReader(file)); err != nil {
				return err
			}
			fmt.Printf("loaded %s\n", args[0])
			return nil
		},
	}

	gcCmd = &cobra.Command{
		Use:   "gc",
		Short: "Removes all expired entries now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := util.Store().DB().GarbageCollect()
			if err != nil {
				return err
			}
			fmt.Printf("removed=%d\n", removed)
			return nil
		},
	}

	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints information about the storage engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := json.MarshalIndent(util.Store().GetDBInfo(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	// StatsCmd prints the metrics of all engines. It lives at the top level of the CLI.
	StatsCmd = util.StoreCommand(&cobra.Command{
		Use:   "stats",
		Short: "Prints the operation metrics of this process in prometheus text format",
		Long:  util.WrapString("Metrics are kept in memory, so this mostly shows the work done while opening the store. It is most useful together with scripts that embed the store."),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			util.Store().WriteMetrics(os.Stdout)
			return nil
		},
	})
)

func init() {
	DBCommands.AddCommand(dumpCmd)
	DBCommands.AddCommand(loadCmd)
	DBCommands.AddCommand(gcCmd)
	DBCommands.AddCommand(infoCmd)
}
