package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/Semior001/enhancer/app/store"
	"github.com/samber/lo"
	"golang.org/x/exp/slog"
)

// stdout is where the commands print their results.
var stdout io.Writer = os.Stdout

// History is a command to print the journal of pipeline runs.
type History struct {
	JournalPath string `long:"journal-path" env:"JOURNAL_PATH" required:"true" description:"parent dir for the bolt journal of runs"`
	Limit       int    `long:"limit" env:"LIMIT" default:"20" description:"max number of runs to print, 0 prints all"`
}

// Execute runs the command.
func (h History) Execute(_ []string) error {
	journal, err := store.NewBolt(h.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			slog.Error("close journal", slog.Any("err", err))
		}
	}()

	runs, err := journal.List(context.Background(), store.ListRequest{Limit: h.Limit})
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	return printRuns(stdout, runs)
}

func printRuns(w io.Writer, runs []store.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STARTED\tELAPSED\tORIGINAL\tPUBLISHED\tOUTCOMES")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s %q\t%s %q\t%s\n",
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.FinishedAt.Sub(r.StartedAt),
			r.OriginalID, r.OriginalTitle,
			r.PublishedID, r.PublishedTitle,
			formatOutcomes(r.Outcomes),
		)
	}
	return tw.Flush()
}

func formatOutcomes(outcomes map[string]string) string {
	keys := lo.Keys(outcomes)
	sort.Strings(keys)
	return strings.Join(lo.Map(keys, func(k string, _ int) string {
		return k + "=" + outcomes[k]
	}), ",")
}
