package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/openfroyo/deployer/pkg/faults"
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError prints the short message and, when withHelp is set, every
// troubleshooting text found in the error chain.
func printError(w io.Writer, err error, withHelp bool) {
	fmt.Fprintf(w, "Error: %v\n", err)

	help := faults.HelpOf(err)
	if len(help) == 0 {
		return
	}
	if !withHelp {
		fmt.Fprintln(w, "\nRun again with --verbose for troubleshooting help.")
		return
	}
	for _, text := range help {
		fmt.Fprintf(w, "\n%s\n", strings.TrimRight(text, "\n"))
	}
}
