package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/rasterpager"
	"github.com/airbusgeo/rasterpager/remote"
	"github.com/dustin/go-humanize"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/natefinch/lumberjack"
	"github.com/spf13/cobra"
	"go.airbusds-geo.com/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var verbose bool
var configFile string
var cacheSize string
var logFile string
var blocksize string
var numCachedBlocks int
var gdalConfig string
var startTime time.Time

var engine *rasterpager.Engine
var logger *zap.Logger
var opener *remote.Opener
var gdalOpts []godal.OpenOption

var rootCmd = &cobra.Command{
	Use:   "rasterpager",
	Short: "paged raster access cli",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		startTime = time.Now()
		ctx := cmd.Context()
		var err error
		if logger, err = newLogger(ctx); err != nil {
			return err
		}

		cfg := rasterpager.DefaultConfig()
		if configFile != "" {
			if cfg, err = rasterpager.LoadConfigFile(configFile); err != nil {
				return fmt.Errorf("load config %s: %w", configFile, err)
			}
		}
		if cacheSize != "" {
			n, err := humanize.ParseBytes(cacheSize)
			if err != nil {
				return fmt.Errorf("invalid cache size %s: %w", cacheSize, err)
			}
			cfg.CacheBytes = int64(n)
		}
		if engine, err = cfg.NewEngine(rasterpager.WithLogger(logger)); err != nil {
			return fmt.Errorf("new engine: %w", err)
		}

		if gdalConfig != "" {
			kv, err := shellwords.Parse(gdalConfig)
			if err != nil {
				return fmt.Errorf("invalid gdal-config: %w", err)
			}
			gdalOpts = append(gdalOpts, godal.ConfigOption(kv...))
		}
		godal.RegisterAll()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		logger.Sugar().Debugf("command %s took %.1fs",
			cmd.Name(), time.Since(startTime).Seconds())
		logger.Sync()
	},
}

func newLogger(ctx context.Context) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	if logFile == "" {
		if !verbose {
			os.Setenv("LOGLEVEL", "info")
		}
		log.Structured()
		return log.Logger(ctx), nil
	}
	w := &lumberjack.Logger{
		Filename: logFile,
		MaxSize:  100, // megabytes
		MaxAge:   7,   //days
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(w), level)
	return zap.New(core), nil
}

// gcsOpener lazily connects to cloud storage the first time a gs:// uri is
// used.
func gcsOpener(ctx context.Context) (*remote.Opener, error) {
	if opener != nil {
		return opener, nil
	}
	op, adapter, err := remote.NewGCSOpener(ctx, remote.BlockSize(blocksize),
		remote.NumCachedBlocks(numCachedBlocks))
	if err != nil {
		return nil, err
	}
	if err := godal.RegisterVSIHandler("gs://", adapter); err != nil {
		return nil, fmt.Errorf("register osio: %w", err)
	}
	opener = op
	return opener, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "yaml engine configuration file")
	rootCmd.PersistentFlags().StringVar(&cacheSize, "cache-size", "", "page cache budget per raster, e.g. 512MiB")
	rootCmd.PersistentFlags().StringVar(&logFile, "logfile", "", "write json logs to this rotated file")
	rootCmd.PersistentFlags().StringVar(&blocksize, "blocksize", "512k", "gs cache blocksize")
	rootCmd.PersistentFlags().IntVar(&numCachedBlocks, "numblocks", 1000, "number of gs cached blocks")
	rootCmd.PersistentFlags().StringVar(&gdalConfig, "gdal-config", "", "gdal configuration options, e.g. \"GDAL_CACHEMAX=512 CPL_DEBUG=ON\"")
	rootCmd.AddCommand(infoCmd, planCmd, statsCmd, thresholdCmd, chipCmd)

	planCmd.Flags().BoolVar(&shell, "shell", false, "output one gdal_translate command per page")

	statsCmd.Flags().IntVar(&workers, "workers", 4, "number of bands scanned concurrently")
	statsCmd.Flags().BoolVar(&covariance, "covariance", false, "also compute the band covariance matrix")

	thresholdCmd.Flags().IntVar(&band, "band", 0, "band to threshold (0 based)")
	thresholdCmd.Flags().Float64Var(&value, "value", 0, "values strictly above are selected")
	thresholdCmd.MarkFlagRequired("value")

	chipCmd.Flags().StringVar(&rowRange, "rows", "", "row range start:stop (0 based, inclusive)")
	chipCmd.Flags().StringVar(&colRange, "cols", "", "column range start:stop (0 based, inclusive)")
	chipCmd.Flags().UintVar(&skip, "skip", 0, "number of rows and columns skipped between exported ones")
	chipCmd.Flags().IntSliceVar(&bandList, "bands", nil, "bands to export (0 based)")
	chipCmd.Flags().StringVar(&interleave, "interleave", "bip", "output interleave: bip or bsq")
	for _, c := range []*cobra.Command{thresholdCmd, chipCmd} {
		c.Flags().BoolVar(&deflate, "deflate", false, "deflate compress the output strips")
		c.Flags().IntVar(&level, "level", -1, "deflate level")
		c.Flags().BoolVar(&bigtiff, "bigtiff", false, "force bigtiff output")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
