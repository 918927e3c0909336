// Command reassemble rebuilds files split across numbered fragment files in
// a multi-volume snapshot tree.
//
// Usage:
//
//	reassemble <multivol_dir> <output_dir> [--workers N] [--chunk-size SIZE] [--cleanup] [--dry-run] [-v]
//
// The exit status is the number of groups that failed to reassemble.
package main

import (
	"os"

	"github.com/brianhouk/duplicity-recovery-tools/internal/cli"
)

func main() {
	os.Exit(cli.Main())
}
