package util

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/hkv/lib/common"
	"github.com/ValentinKolb/hkv/lib/db"
	"github.com/ValentinKolb/hkv/lib/store/lstore"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// SetupStoreFlags adds the substrate flags to a command
func SetupStoreFlags(cmd *cobra.Command) {
	defaults := common.DefaultStoreConfig()

	key := "engine"
	cmd.PersistentFlags().String(key, string(defaults.Engine), WrapString("Storage engine to use (maple, pebble, bolt). maple keeps everything in memory and is lost on exit"))

	key = "data-dir"
	cmd.PersistentFlags().String(key, defaults.DataDir, WrapString("Directory for the files of the persistent engines"))

	key = "no-sync"
	cmd.PersistentFlags().Bool(key, defaults.NoSync, WrapString("Do not fsync on every commit (faster, may lose the last writes on a crash)"))

	key = "max-key-length"
	cmd.PersistentFlags().Int(key, defaults.MaxKeyLength, WrapString("Exclusive upper bound for the length of collection keys"))

	key = "gc-interval"
	cmd.PersistentFlags().Duration(key, defaults.GCInterval, WrapString("Interval of the background sweep that removes expired entries (negative to disable)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, defaults.LogLevel, WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("hkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetStoreConfig reads the store configuration from viper
func GetStoreConfig() common.StoreConfig {
	return common.StoreConfig{
		Engine:       db.Implementation(viper.GetString("engine")),
		DataDir:      viper.GetString("data-dir"),
		NoSync:       viper.GetBool("no-sync"),
		MaxKeyLength: viper.GetInt("max-key-length"),
		GCInterval:   viper.GetDuration("gc-interval"),
		LogLevel:     viper.GetString("log-level"),
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Store Lifecycle
// --------------------------------------------------------------------------

var (
	storeMu sync.Mutex
	store   *lstore.Store
)

// OpenStore is a PersistentPreRunE that opens the store described by the flags
func OpenStore(cmd *cobra.Command, _ []string) error {
	if err := BindCommandFlags(cmd); err != nil {
		return err
	}
	cfg := GetStoreConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := common.InitLoggers(cfg); err != nil {
		return err
	}

	storeMu.Lock()
	defer storeMu.Unlock()
	if store != nil {
		return nil
	}
	s, err := lstore.NewLocalStore(cfg.ToDBFactory(), &lstore.Options{
		MaxKeyLength: cfg.MaxKeyLength,
		Clock:        time.Now,
	})
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Engine, err)
	}
	store = s
	return nil
}

// Store returns the store opened by OpenStore
func Store() *lstore.Store {
	storeMu.Lock()
	defer storeMu.Unlock()
	return store
}

// CloseStore closes the store if one is open. It is safe to call it more than once.
func CloseStore() error {
	storeMu.Lock()
	defer storeMu.Unlock()
	if store == nil {
		return nil
	}
	err := store.Close()
	store = nil
	return err
}

// StoreCommand prepares a command group that works on the local store
func StoreCommand(cmd *cobra.Command) *cobra.Command {
	cmd.PersistentPreRunE = OpenStore
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error { return CloseStore() }
	return cmd
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

// Quote prints binary safe values
func Quote(b []byte) string {
	return fmt.Sprintf("%q", b)
}
