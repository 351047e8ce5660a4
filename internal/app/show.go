package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints the latest status per indicator, recent weekly scores, and the
// newest alert firings.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show status")
	}
	defer closeStore()

	snapshots, err := store.LatestSnapshots(ctx)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Indicator\tStatus\tTrend\tUpdated (UTC)\tExplanation")
	for _, snap := range snapshots {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			snap.IndicatorKey,
			snap.Status,
			snap.Trend,
			snap.Timestamp.UTC().Format(time.RFC3339),
			sanitizeInline(snap.Explanation),
		)
	}
	writer.Flush()

	if opts.WeeklyLimit > 0 {
		scores, err := store.ListRecentWeeklyScores(ctx, opts.WeeklyLimit)
		if err != nil {
			return err
		}
		if len(scores) > 0 {
			fmt.Fprintln(os.Stdout)
			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "Week (Mon)\tScore\tDelta")
			for _, row := range scores {
				fmt.Fprintf(writer, "%s\t%d\t%+d\n", row.WeekStart.UTC().Format("2006-01-02"), row.Score, row.DeltaScore)
			}
			writer.Flush()
		}
	}

	if opts.AlertLimit > 0 {
		firings, err := store.ListRecentFirings(ctx, opts.AlertLimit)
		if err != nil {
			return err
		}
		if len(firings) > 0 {
			fmt.Fprintln(os.Stdout)
			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "Fired (UTC)\tRule\tPayload")
			for _, fired := range firings {
				fmt.Fprintf(
					writer,
					"%s\t%d\t%s\n",
					fired.Timestamp.UTC().Format(time.RFC3339),
					fired.RuleID,
					sanitizeInline(string(fired.Payload)),
				)
			}
			writer.Flush()
		}
	}
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
