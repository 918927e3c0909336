package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

const (
	// DefaultChunkSize is the copy buffer used per active fragment.
	DefaultChunkSize = 8 * 1024 * 1024
	// MaxChunkSize caps a single copy buffer.
	MaxChunkSize = 1 << 30
)

// ErrInvalid marks a configuration problem detected before any work starts.
var ErrInvalid = errors.New("invalid configuration")

// Config holds everything one reassembly run needs.
type Config struct {
	SourceDir   string // multi-volume tree to read fragments from
	OutputDir   string // root that reassembled files are written under
	Workers     int    // parallel workers (0 = NumCPU-1, minimum 1)
	ChunkSize   int    // copy buffer size in bytes
	Cleanup     bool   // delete a leaf directory after it assembled successfully
	DryRun      bool   // count fragments, write nothing
	Verbose     bool   // shorthand for --log-level=debug
	LogLevel    string // debug, info, warn, error
	MetricsFile string // optional Prometheus textfile written at the end of the run
}

// FromEnv returns defaults seeded from REASSEMBLE_* environment variables.
// Flags registered afterwards take precedence over these values.
func FromEnv() (Config, error) {
	cfg := Config{
		ChunkSize: DefaultChunkSize,
		LogLevel:  "info",
	}

	if v := os.Getenv("REASSEMBLE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("%w: REASSEMBLE_WORKERS=%q: %v", ErrInvalid, v, err)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("REASSEMBLE_CHUNK_SIZE"); v != "" {
		n, err := parseSize(v)
		if err != nil {
			return cfg, fmt.Errorf("%w: REASSEMBLE_CHUNK_SIZE=%q: %v", ErrInvalid, v, err)
		}
		cfg.ChunkSize = n
	}
	if v := os.Getenv("REASSEMBLE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REASSEMBLE_METRICS_FILE"); v != "" {
		cfg.MetricsFile = v
	}
	return cfg, nil
}

// Register binds the run flags onto fs, using the current values of cfg as
// defaults.
func (cfg *Config) Register(fs *pflag.FlagSet) {
	fs.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "number of parallel workers (default: CPU count - 1)")
	fs.VarP((*sizeValue)(&cfg.ChunkSize), "chunk-size", "c", "chunk size for streaming I/O, bytes or units like 8MiB")
	fs.BoolVar(&cfg.Cleanup, "cleanup", cfg.Cleanup, "delete multi-volume directories after successful reassembly")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "show what would be done without assembling files")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable debug logging")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "write Prometheus text metrics to this file when done")
}

// Finalize takes the positional arguments (source, output), resolves paths
// and defaults, and validates the result.
func (cfg *Config) Finalize(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: expected <multivol_dir> <output_dir>, got %d arguments", ErrInvalid, len(args))
	}
	src, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("%w: source directory: %v", ErrInvalid, err)
	}
	out, err := filepath.Abs(args[1])
	if err != nil {
		return fmt.Errorf("%w: output directory: %v", ErrInvalid, err)
	}
	cfg.SourceDir = src
	cfg.OutputDir = out

	if cfg.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 1, got %d", ErrInvalid, cfg.Workers)
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers()
	}
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: chunk size must be between 1 and %d bytes, got %d", ErrInvalid, MaxChunkSize, cfg.ChunkSize)
	}
	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}
	return nil
}

// DefaultWorkers is one less than the CPU count, never below 1.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-1)
}

func parseSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > MaxChunkSize {
		return 0, fmt.Errorf("size %s exceeds %s", s, humanize.IBytes(MaxChunkSize))
	}
	return int(n), nil
}

// sizeValue implements pflag.Value for byte sizes.
type sizeValue int

func (v *sizeValue) String() string {
	return strconv.Itoa(int(*v))
}

func (v *sizeValue) Set(s string) error {
	n, err := parseSize(s)
	if err != nil {
		return err
	}
	*v = sizeValue(n)
	return nil
}

func (v *sizeValue) Type() string {
	return "size"
}

var _ pflag.Value = (*sizeValue)(nil)
