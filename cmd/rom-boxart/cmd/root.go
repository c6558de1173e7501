package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-rom-boxart/internal/api"
	"go-rom-boxart/internal/config"
	"go-rom-boxart/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// Logging flags
var (
	logLevel  string
	logFormat string
)

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// sdcardFlag holds the value of the --sdcard-dir flag
var sdcardFlag string

// apiTimeoutFlag holds the value of the --api-timeout flag
var apiTimeoutFlag int

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

var rootCmd = &cobra.Command{
	Use:   "rom-boxart",
	Short: "Identify ROMs by checksum and fetch TWiLight Menu++ box art",
	Long: `rom-boxart hashes the ROMs in a directory, identifies them against the
No-Intro databases, optionally renames them to their canonical names and
stores resized box art from libretro-thumbnails on the SD card.`,
	PersistentPreRunE: loadGlobalConfig,
	SilenceUsage:      true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	defer closeTransport()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		closeTransport()
		os.Exit(1)
	}
}

func closeTransport() {
	if lt, ok := globalHttpTransport.(*api.LoggingTransport); ok && lt != nil {
		log.Debug("Closing API logging transport file.")
		if err := lt.Close(); err != nil {
			log.WithError(err).Error("Error closing API log file")
		}
		globalHttpTransport = nil
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log HTTP requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&sdcardFlag, "sdcard-dir", "", "SD card root holding no-intro/ and _nds/ (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", -1, "HTTP client timeout in seconds, 0 for none (overrides config)")
}

// initLogging configures logrus based on persistent flags
func initLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.WithError(err).Warnf("Invalid log level '%s', using default 'info'", logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	switch logFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		log.Warnf("Invalid log format '%s', using default 'text'", logFormat)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.Debugf("Logging configured: Level=%s, Format=%s", log.GetLevel(), logFormat)
}

// loadGlobalConfig loads the configuration, applies flag overrides and sets
// up the global HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	initLogging()

	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			log.Debugf("No config file at %s, using defaults", cfgFile)
		} else {
			// A broken config file is reported but defaults still apply so
			// flags alone can drive the run.
			log.WithError(err).Warnf("Failed to load configuration from %s", cfgFile)
		}
	}

	if cmd.Flags().Changed("log-api") {
		globalConfig.LogApiRequests = logApiFlag
		log.Debugf("Overriding LogApiRequests based on --log-api flag: %t", logApiFlag)
	}
	if cmd.Flags().Changed("sdcard-dir") {
		if sdcardFlag != "" {
			globalConfig.SdcardPath = sdcardFlag
			log.Debugf("Overriding SdcardPath based on --sdcard-dir flag: %s", sdcardFlag)
		} else {
			log.Warn("--sdcard-dir flag provided but value is empty, ignoring.")
		}
	}
	if cmd.Flags().Changed("api-timeout") {
		if apiTimeoutFlag >= 0 {
			globalConfig.ApiClientTimeoutSec = apiTimeoutFlag
			log.Debugf("Overriding ApiClientTimeoutSec based on --api-timeout flag: %d sec", apiTimeoutFlag)
		} else {
			log.Warnf("--api-timeout flag provided with invalid value %d, using config value: %d sec", apiTimeoutFlag, globalConfig.ApiClientTimeoutSec)
		}
	}

	globalHttpTransport = http.DefaultTransport
	if globalConfig.LogApiRequests {
		logFilePath := api.DefaultLogFile
		log.Infof("API logging to file: %s", logFilePath)
		lt, err := api.NewLoggingTransport(http.DefaultTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			globalHttpTransport = lt
		}
	}
	return nil
}

// newHttpClient returns a client using the global transport and the
// configured timeout. A timeout of 0 means the client never gives up.
func newHttpClient() *http.Client {
	transport := globalHttpTransport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(globalConfig.ApiClientTimeoutSec) * time.Second,
	}
}
