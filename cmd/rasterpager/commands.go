package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/airbusgeo/rasterpager"
	"github.com/airbusgeo/rasterpager/gdalpager"
	"github.com/airbusgeo/rasterpager/remote"
	"github.com/alessio/shellescape"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var shell bool
var workers int
var covariance bool
var band int
var value float64
var rowRange, colRange string
var skip uint
var bandList []int
var interleave string
var deflate bool
var level int
var bigtiff bool

// openElement pages name through the native TIFF reader when possible and
// through GDAL otherwise. The returned func releases the element and its
// source.
func openElement(ctx context.Context, name string) (*rasterpager.Element, func(), error) {
	ext := strings.ToLower(filepath.Ext(name))
	if remote.IsRemote(name) {
		if _, err := gcsOpener(ctx); err != nil {
			return nil, nil, err
		}
	}
	if ext == ".tif" || ext == ".tiff" {
		el, closeSrc, err := openTIFF(ctx, name)
		if err == nil {
			return el, func() {
				if err := el.Close(); err != nil {
					logger.Warn("close element", zap.Error(err))
				}
				closeSrc()
			}, nil
		}
		if !errors.Is(err, rasterpager.ErrUnsupported) {
			return nil, nil, err
		}
		logger.Debug("falling back to gdal", zap.String("dataset", name), zap.Error(err))
	}
	el, err := gdalpager.Import(engine, name, nil, gdalOpts...)
	if err != nil {
		return nil, nil, err
	}
	return el, func() {
		if err := el.Close(); err != nil {
			logger.Warn("close element", zap.Error(err))
		}
	}, nil
}

func openTIFF(ctx context.Context, name string) (*rasterpager.Element, func(), error) {
	if remote.IsRemote(name) {
		r, err := opener.Open(name)
		if err != nil {
			return nil, nil, err
		}
		el, err := engine.ImportTIFF(name, r, nil)
		return el, func() {}, err
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", name, err)
	}
	el, err := engine.ImportTIFF(name, f, nil)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return el, func() { f.Close() }, nil
}

// writeOutput runs write against a local file, or against a temporary file
// uploaded to name when name is a gs:// uri.
func writeOutput(ctx context.Context, name string, write func(w io.Writer) error) error {
	if !remote.IsRemote(name) {
		f, err := os.Create(name)
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if err := write(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	op, err := gcsOpener(ctx)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(engine.Config().ScratchDir, "rasterpager-*.tif")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if err := write(tmp); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return op.Upload(ctx, name, tmp)
}

func exportOptions() []rasterpager.ExportOption {
	var opts []rasterpager.ExportOption
	if deflate {
		opts = append(opts, rasterpager.ExportDeflate(level))
	}
	if bigtiff {
		opts = append(opts, rasterpager.ForceBigTIFF())
	}
	return opts
}

var infoCmd = &cobra.Command{
	Use:   "info dataset",
	Short: "print the raster descriptor and page layout of dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		el, release, err := openElement(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer release()
		d := el.Descriptor()
		fmt.Printf("%s: %d rows, %d columns, %d bands\n", d.Name, d.RowCount(), d.ColumnCount(), d.BandCount())
		fmt.Printf("encoding %v, interleave %v, %v\n", d.Encoding, d.Interleave, d.ProcessingLocation)
		fmt.Printf("size %s, classification %v\n", humanize.IBytes(uint64(d.DataSize())), d.Classification.Level)
		if rs, cs, err := rasterpager.SkipFactors(d); err == nil {
			fmt.Printf("skip factors %d rows, %d columns\n", rs, cs)
		} else {
			logger.Debug("skip factors", zap.Error(err))
		}
		if len(d.BadValues) > 0 {
			fmt.Printf("bad values %v\n", d.BadValues)
		}
		if d.FileDescriptor != nil && len(d.FileDescriptor.GCPs) > 0 {
			fmt.Printf("%d gcps\n", len(d.FileDescriptor.GCPs))
		}
		keys := make([]string, 0, len(d.Metadata))
		for k := range d.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s=%v\n", k, d.Metadata[k])
		}
		pl := el.PageLayout()
		fmt.Printf("%d pages of %d rows\n", len(pl.Pages()), pl.Pages()[0].RowCount)
		if verbose {
			fmt.Print(engine.Config())
		}
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan dataset",
	Short: "print the pages dataset is split into",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		el, release, err := openElement(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer release()
		d := el.Descriptor()
		base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		for i, pg := range el.PageLayout().Pages() {
			if !shell {
				fmt.Printf("page %d: rows %d-%d\n", i, pg.StartRow, pg.StopRow())
				continue
			}
			fmt.Println(shellescape.QuoteCommand([]string{"gdal_translate",
				"-srcwin", "0", strconv.Itoa(pg.StartRow), strconv.Itoa(d.ColumnCount()), strconv.Itoa(pg.RowCount),
				args[0], fmt.Sprintf("%s-%d.tif", base, i)}))
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats dataset",
	Short: "compute per band statistics of dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		el, release, err := openElement(ctx, args[0])
		if err != nil {
			return err
		}
		defer release()
		stats, err := rasterpager.ComputeBandStatistics(ctx, el, workers)
		if err != nil {
			return fmt.Errorf("statistics: %w", err)
		}
		for _, st := range stats {
			fmt.Printf("band %d: count=%d bad=%d min=%g max=%g mean=%g stddev=%g\n",
				st.Band, st.Count, st.BadCount, st.Min, st.Max, st.Mean, st.StdDev)
		}
		if covariance {
			cov, err := rasterpager.ComputeCovariance(ctx, el)
			if err != nil {
				return fmt.Errorf("covariance: %w", err)
			}
			for _, row := range cov {
				fmt.Println(strings.Trim(fmt.Sprint(row), "[]"))
			}
		}
		return nil
	},
}

var thresholdCmd = &cobra.Command{
	Use:   "threshold dataset mask.tif",
	Short: "write a mask of the pixels of a band above a value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		el, release, err := openElement(ctx, args[0])
		if err != nil {
			return err
		}
		defer release()
		mask, count, err := engine.Threshold(ctx, el, band, value)
		if err != nil {
			return fmt.Errorf("threshold: %w", err)
		}
		defer mask.Close()
		logger.Info("thresholded", zap.Int("band", band), zap.Float64("value", value), zap.Int("selected", count))
		fd := rasterpager.GenerateFileDescriptorForExport(mask.Descriptor(), args[1], rasterpager.Subset{})
		return writeOutput(ctx, args[1], func(w io.Writer) error {
			return rasterpager.ExportTIFF(ctx, w, mask, fd, exportOptions()...)
		})
	},
}

func parseRange(s string, dims rasterpager.Dimensions) (start, stop rasterpager.DimensionDescriptor, err error) {
	if s == "" {
		return
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return start, stop, fmt.Errorf("invalid range %q", s)
	}
	a, err := strconv.Atoi(parts[0])
	if err != nil {
		return start, stop, fmt.Errorf("invalid range %q: %w", s, err)
	}
	b, err := strconv.Atoi(parts[1])
	if err != nil {
		return start, stop, fmt.Errorf("invalid range %q: %w", s, err)
	}
	if a < 0 || b < a || b >= len(dims) {
		return start, stop, fmt.Errorf("range %q out of 0:%d", s, len(dims)-1)
	}
	return dims[a], dims[b], nil
}

var chipCmd = &cobra.Command{
	Use:   "chip dataset chip.tif",
	Short: "export a subset of dataset as a tiff",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		il, err := rasterpager.ParseInterleave(interleave)
		if err != nil {
			return err
		}
		el, release, err := openElement(ctx, args[0])
		if err != nil {
			return err
		}
		defer release()
		d := el.Descriptor()
		s := rasterpager.Subset{RowSkip: uint32(skip), ColumnSkip: uint32(skip)}
		if s.StartRow, s.StopRow, err = parseRange(rowRange, d.Rows); err != nil {
			return err
		}
		if s.StartColumn, s.StopColumn, err = parseRange(colRange, d.Columns); err != nil {
			return err
		}
		for _, b := range bandList {
			if b < 0 || b >= d.BandCount() {
				return fmt.Errorf("band %d out of 0:%d", b, d.BandCount()-1)
			}
			s.Bands = append(s.Bands, d.Bands[b])
		}
		fd := rasterpager.GenerateFileDescriptorForExport(d, args[1], s)
		fd.Interleave = il
		logger.Debug("exporting chip", zap.Int("rows", len(fd.Rows)), zap.Int("columns", len(fd.Columns)),
			zap.Int("bands", len(fd.Bands)), zap.Int64("bytes", rasterpager.CalculateFileSize(fd)))
		return writeOutput(ctx, args[1], func(w io.Writer) error {
			return rasterpager.ExportTIFF(ctx, w, el, fd, exportOptions()...)
		})
	},
}
