package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Semior001/enhancer/app/store"
	"github.com/samber/lo"
	"golang.org/x/exp/slog"
)

// List is a command to print articles kept in the store.
type List struct {
	Store       StoreOpts `group:"store" namespace:"store" env-namespace:"STORE"`
	UpdatedOnly bool      `long:"updated-only" env:"UPDATED_ONLY" description:"print only enhanced articles"`
}

// Execute runs the command.
func (l List) Execute(_ []string) error {
	articles, err := l.Store.api(slog.Default()).List(context.Background())
	if err != nil {
		return fmt.Errorf("list articles: %w", err)
	}

	if l.UpdatedOnly {
		articles = lo.Filter(articles, func(a store.Article, _ int) bool { return a.IsUpdated })
	}

	return printArticles(stdout, articles)
}

func printArticles(w io.Writer, articles []store.Article) error {
	if len(articles) == 0 {
		_, err := fmt.Fprintln(w, "no articles")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tUPDATED\tAUTHOR\tTITLE")
	for _, a := range articles {
		_, _ = fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", a.ID, a.IsUpdated, lo.Ternary(a.Author == "", "-", a.Author), a.Title)
	}
	return tw.Flush()
}
