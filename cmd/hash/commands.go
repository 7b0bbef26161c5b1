package hash

import (
	"fmt"
	"strconv"

	"github.com/ValentinKolb/hkv/cmd/util"
	"github.com/ValentinKolb/hkv/lib/store"
	"github.com/spf13/cobra"
)

var (
	hsetCmd = &cobra.Command{
		Use:   "hset [key] [field] [value] [field value ...]",
		Short: "Sets one or more fields of a hash",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 3 || len(args)%2 == 0 {
				return fmt.Errorf("expected a key followed by field value pairs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			key := []byte(args[0])
			pairs := make([]store.FieldValue, 0, (len(args)-1)/2)
			for i := 1; i < len(args); i += 2 {
				pairs = append(pairs, store.FieldValue{Field: []byte(args[i]), Value: []byte(args[i+1])})
			}
			changed, inserted, err := util.Store().Hash().MultiSet(key, pairs)
			if err != nil {
				return err
			}
			n := 0
			for _, c := range changed {
				if c {
					n++
				}
			}
			fmt.Printf("inserted=%d, changed=%d\n", inserted, n)
			return nil
		},
	}
	hsetnxCmd = &cobra.Command{
		Use:   "hsetnx [key] [field] [value]",
		Short: "Sets a field only if it does not exist yet",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := util.Store().Hash().SetIfAbsent([]byte(args[0]), []byte(args[1]), []byte(args[2]))
			if err != nil {
				return err
			}
			fmt.Printf("set=%v\n", set)
			return nil
		},
	}
	hgetCmd = &cobra.Command{
		Use:   "hget [key] [field] [field ...]",
		Short: "Gets the value of one or more fields",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := []byte(args[0])
			fields := make([][]byte, 0, len(args)-1)
			for _, f := range args[1:] {
				fields = append(fields, []byte(f))
			}
			results, err := util.Store().Hash().MultiGet(key, fields)
			if err != nil {
				return err
			}
			for i, r := range results {
				if r.Err != nil {
					fmt.Printf("field=%s, found=false, err=%v\n", util.Quote(fields[i]), r.Err)
					continue
				}
				fmt.Printf("field=%s, found=true, value=%s\n", util.Quote(fields[i]), util.Quote(r.Value))
			}
			return nil
		},
	}
	hexistsCmd = &cobra.Command{
		Use:   "hexists [key] [field]",
		Short: "Checks if a field exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := util.Store().Hash().Exists([]byte(args[0]), []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("exists=%v\n", ok)
			return nil
		},
	}
	hdelCmd = &cobra.Command{
		Use:   "hdel [key] [field] [field ...]",
		Short: "Deletes one or more fields",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := make([][]byte, 0, len(args)-1)
			for _, f := range args[1:] {
				fields = append(fields, []byte(f))
			}
			removed, err := util.Store().Hash().DeleteMany([]byte(args[0]), fields)
			if err != nil {
				return err
			}
			fmt.Printf("removed=%d\n", removed)
			return nil
		},
	}
	hclearCmd = &cobra.Command{
		Use:   "hclear [key]",
		Short: "Deletes a hash with all its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := util.Store().Hash().DeleteCollection([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("removed=%d\n", removed)
			return nil
		},
	}
	hgetallCmd = &cobra.Command{
		Use:   "hgetall [key]",
		Short: "Prints all field value pairs of a hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := util.Store().Hash().GetAll([]byte(args[0]))
			if err != nil {
				return err
			}
			for _, p := range pairs {
				fmt.Printf("%s=%s\n", util.Quote(p.Field), util.Quote(p.Value))
			}
			return nil
		},
	}
	hkeysCmd = &cobra.Command{
		Use:   "hkeys [key]",
		Short: "Prints all fields of a hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := util.Store().Hash().Keys([]byte(args[0]))
			if err != nil {
				return err
			}
			for _, f := range fields {
				fmt.Println(util.Quote(f))
			}
			return nil
		},
	}
	hvalsCmd = &cobra.Command{
		Use:   "hvals [key]",
		Short: "Prints all values of a hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := util.Store().Hash().Values([]byte(args[0]))
			if err != nil {
				return err
			}
			for _, v := range values {
				fmt.Println(util.Quote(v))
			}
			return nil
		},
	}
	hlenCmd = &cobra.Command{
		Use:   "hlen [key]",
		Short: "Prints the number of fields of a hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := util.Store().Hash().Length([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("length=%d\n", n)
			return nil
		},
	}
	hstrlenCmd = &cobra.Command{
		Use:   "hstrlen [key] [field]",
		Short: "Prints the length of a field value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := util.Store().Hash().StringLength([]byte(args[0]), []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("length=%d\n", n)
			return nil
		},
	}
	hincrbyCmd = &cobra.Command{
		Use:   "hincrby [key] [field] [delta]",
		Short: "Increments the integer value of a field",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("delta must be an integer: %w", err)
			}
			result, err := util.Store().Hash().IncrementInteger([]byte(args[0]), []byte(args[1]), delta)
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		},
	}
	hincrbyfloatCmd = &cobra.Command{
		Use:   "hincrbyfloat [key] [field] [delta]",
		Short: "Increments the float value of a field",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("delta must be a number: %w", err)
			}
			result, err := util.Store().Hash().IncrementFloat([]byte(args[0]), []byte(args[1]), delta)
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		},
	}
	hexpireCmd = &cobra.Command{
		Use:   "hexpire [key] [seconds]",
		Short: "Sets a relative expiration on a hash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("seconds must be a number: %w", err)
			}
			n, err := util.Store().Hash().Expire([]byte(args[0]), seconds)
			if err != nil {
				return err
			}
			fmt.Printf("updated=%d\n", n)
			return nil
		},
	}
	hexpireatCmd = &cobra.Command{
		Use:   "hexpireat [key] [unix]",
		Short: "Sets an absolute expiration (unix seconds) on a hash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			unix, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("unix must be a number: %w", err)
			}
			n, err := util.Store().Hash().ExpireAt([]byte(args[0]), unix)
			if err != nil {
				return err
			}
			fmt.Printf("updated=%d\n", n)
			return nil
		},
	}
	httlCmd = &cobra.Command{
		Use:   "httl [key]",
		Short: "Prints the remaining seconds to live (-1 no expiration, -2 missing)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := util.Store().Hash().TimeToLive([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Println(ttl)
			return nil
		},
	}
	hpersistCmd = &cobra.Command{
		Use:   "hpersist [key]",
		Short: "Removes the expiration of a hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := util.Store().Hash().Persist([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("persisted=%v\n", ok)
			return nil
		},
	}
	hscanCmd = &cobra.Command{
		Use:   "hscan [key] [start] [end]",
		Short: "Prints the fields of a hash in the range [start, end]",
		Long:  util.WrapString("Prints the fields of a hash in byte order. An empty start begins at the first field, an empty end or a missing argument scans to the last field."),
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var start, end []byte
			if len(args) > 1 && args[1] != "" {
				start = []byte(args[1])
			}
			if len(args) > 2 && args[2] != "" {
				end = []byte(args[2])
			}
			limit, _ := cmd.Flags().GetInt("limit")
			snapshot, _ := cmd.Flags().GetBool("snapshot")

			it, err := util.Store().Hash().ScanFields([]byte(args[0]), start, end, limit, snapshot)
			if err != nil {
				return err
			}
			defer it.Close()
			for ; it.Valid(); it.Next() {
				fmt.Printf("%s=%s\n", util.Quote(it.Field()), util.Quote(it.Value()))
			}
			return it.Err()
		},
	}
	hcheckCmd = &cobra.Command{
		Use:   "hcheck [key]",
		Short: "Verifies the counters of a hash against its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := []byte(args[0])
			if repair, _ := cmd.Flags().GetBool("repair"); repair {
				repaired, err := util.Store().Hash().CheckAndRepair(key)
				if err != nil {
					return err
				}
				fmt.Printf("repaired=%v\n", repaired)
				return nil
			}
			if err := util.Store().Hash().Check(key); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
)
