package kv

import (
	"fmt"

	"github.com/ValentinKolb/hkv/cmd/util"
	"github.com/ValentinKolb/hkv/lib/store"
	"github.com/spf13/cobra"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := []byte(args[0]), []byte(args[1])
			ttl, _ := cmd.Flags().GetInt64("ttl")

			var err error
			if ttl > 0 {
				err = util.Store().KV().SetWithTTL(key, value, ttl)
			} else {
				err = util.Store().KV().Set(key, value)
			}
			if err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Gets the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := util.Store().KV().Get([]byte(args[0]))
			if store.IsNotFound(err) {
				fmt.Printf("key=%s, found=false\n", args[0])
				return nil
			} else if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=true, resp=%s\n", args[0], util.Quote(value))
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := util.Store().KV().Delete([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("removed=%d\n", removed)
			return nil
		},
	}
	ttlCmd = &cobra.Command{
		Use:   "ttl [key]",
		Short: "Prints the remaining seconds to live (-1 no expiration, -2 missing)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := util.Store().KV().TimeToLive([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Println(ttl)
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan [start] [end]",
		Short: "Prints the keys in the range [start, end]",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var start, end []byte
			if len(args) > 0 && args[0] != "" {
				start = []byte(args[0])
			}
			if len(args) > 1 && args[1] != "" {
				end = []byte(args[1])
			}
			limit, _ := cmd.Flags().GetInt("limit")
			snapshot, _ := cmd.Flags().GetBool("snapshot")

			it, err := util.Store().KV().Scan(start, end, limit, snapshot)
			if err != nil {
				return err
			}
			defer it.Close()
			for ; it.Valid(); it.Next() {
				fmt.Printf("%s=%s\n", util.Quote(it.Key()), util.Quote(it.Value()))
			}
			return it.Err()
		},
	}
)
