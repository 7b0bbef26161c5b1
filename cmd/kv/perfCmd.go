package kv

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/hkv/cmd/util"
	"github.com/ValentinKolb/hkv/lib/common"
	dbutil "github.com/ValentinKolb/hkv/lib/db/util"
	"github.com/ValentinKolb/hkv/lib/store"
	"github.com/ValentinKolb/hkv/lib/store/lstore"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	log = logger.GetLogger("cli")

	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the local store",
		Long:    util.WrapString("Runs parallel benchmarks of the kv and hash operations against the configured engine. All test keys are removed afterwards."),
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfRounds           = 1
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "rounds"
	perfTestCmd.Flags().Int(key, 1, util.WrapString("How often every benchmark is repeated (mean and deviation are reported)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfRounds = max(viper.GetInt("rounds"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchmark is one named parallel workload. setup runs once before the timer starts,
// op runs for every iteration with the key of that iteration.
type benchmark struct {
	name  string
	setup func(s *lstore.Store, key []byte) error
	op    func(s *lstore.Store, key []byte, i int) error
}

var (
	testValue = []byte("test")
	testField = []byte("field")
)

func benchmarks() []benchmark {
	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	setKV := func(s *lstore.Store, key []byte) error { return s.KV().Set(key, testValue) }
	setField := func(s *lstore.Store, key []byte) error {
		_, err := s.Hash().Set(key, testField, testValue)
		return err
	}

	return []benchmark{
		{name: "set", op: func(s *lstore.Store, key []byte, _ int) error {
			return s.KV().Set(key, testValue)
		}},
		{name: "set-large", op: func(s *lstore.Store, key []byte, _ int) error {
			return s.KV().Set(key, largeValue)
		}},
		{name: "get", setup: setKV, op: func(s *lstore.Store, key []byte, _ int) error {
			_, err := s.KV().Get(key)
			return err
		}},
		{name: "delete", setup: setKV, op: func(s *lstore.Store, key []byte, _ int) error {
			_, err := s.KV().Delete(key)
			return err
		}},
		{name: "hset", op: func(s *lstore.Store, key []byte, i int) error {
			_, err := s.Hash().Set(key, []byte(strconv.Itoa(i%perfKeySpread)), testValue)
			return err
		}},
		{name: "hget", setup: setField, op: func(s *lstore.Store, key []byte, _ int) error {
			_, err := s.Hash().Get(key, testField)
			return err
		}},
		{name: "hincrby", op: func(s *lstore.Store, key []byte, _ int) error {
			_, err := s.Hash().IncrementInteger(key, []byte("counter"), 1)
			return err
		}},
		{name: "mixed", setup: setField, op: func(s *lstore.Store, key []byte, i int) error {
			var err error
			switch i % 4 {
			case 0: // hset
				_, err = s.Hash().Set(key, testField, testValue)
			case 1: // hget
				_, err = s.Hash().Get(key, testField)
			case 2: // hdel
				err = s.Hash().Delete(key, testField)
			case 3: // hlen
				_, err = s.Hash().Length(key)
			}
			return err
		}},
	}
}

func run(_ *cobra.Command, _ []string) error {
	s := util.Store()
	cfg := util.GetStoreConfig()

	fmt.Println("Performance testing tool for the local store")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Engine: %s\n", cfg.Engine)
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]dbutil.Stats)

	for _, bm := range benchmarks() {
		if shouldSkip(bm.name) {
			fmt.Printf("%-20sskipped\n", bm.name)
			continue
		}

		samples := make([]float64, 0, perfRounds)
		for round := 0; round < perfRounds; round++ {
			result := testing.Benchmark(func(b *testing.B) {
				// prepare keys
				getKey, iter := getKeys(bm.name)

				if bm.setup != nil {
					iter(func(k []byte) {
						if err := bm.setup(s, k); err != nil {
							log.Warningf("(%s) - error preparing key: %v", bm.name, err)
						}
					})
				}

				// cleanup
				b.Cleanup(func() {
					iter(func(k []byte) {
						if _, err := s.Hash().DeleteCollection(k); err != nil {
							log.Warningf("(%s) - error deleting hash: %v", bm.name, err)
						}
						if _, err := s.KV().Delete(k); err != nil {
							log.Warningf("(%s) - error deleting key: %v", bm.name, err)
						}
					})
				})

				b.SetParallelism(perfNumThreads)

				b.ResetTimer()

				b.RunParallel(func(pb *testing.PB) {
					counter := 0
					for pb.Next() {
						if err := bm.op(s, getKey(counter), counter); err != nil && !store.IsNotFound(err) {
							log.Warningf("(%s) - error: %v", bm.name, err)
						}
						counter++
					}
				})
			})
			// prevent division by zero
			samples = append(samples, math.Max(float64(result.NsPerOp()), 1))
		}

		results[bm.name] = dbutil.NewStats(samples)
		printResult(bm.name, results[bm.name])
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, cfg); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) []byte, func(func([]byte))) {
	keys := make([][]byte, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = []byte(fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i))
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) []byte {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func([]byte)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, stats dbutil.Stats) {
	opsPerSec := 1.0 / (stats.Mean / 1e9)

	// Print the formatted result
	if perfRounds > 1 {
		fmt.Printf("%-20s%.0fns/op (%s/op, \u00b1%.0fns)\t%.0f ops/sec\n", test, stats.Mean, time.Duration(stats.Mean), stats.StdDeviation, opsPerSec)
		return
	}
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, stats.Mean, time.Duration(stats.Mean), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]dbutil.Stats, config common.StoreConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "StdDevNs", "MinNs", "MaxNs",
		"Engine", "NoSync", "Threads", "Rounds", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, stats := range results {
		row := []string{
			test,
			fmt.Sprintf("%.0f", stats.Mean),
			time.Duration(stats.Mean).String(),
			fmt.Sprintf("%.0f", 1.0/(stats.Mean/1e9)),
			fmt.Sprintf("%.0f", stats.StdDeviation),
			fmt.Sprintf("%.0f", stats.Min),
			fmt.Sprintf("%.0f", stats.Max),
			string(config.Engine),
			strconv.FormatBool(config.NoSync),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfRounds),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
