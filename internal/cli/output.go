package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"stockwatcher/internal/app"
	"stockwatcher/internal/index"
	"stockwatcher/internal/storage"
)

const tableTime = "2006-01-02 15:04:05"

func writeObservations(out io.Writer, observations []storage.Observation) error {
	return app.WriteObservationTable(out, observations)
}

func writeAlertTable(out io.Writer, alerts []storage.AlertRule) error {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts defined")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYMBOL\tKIND\tLOW\tHIGH\tPERCENT\tREFERENCE\tSTATUS\tTRIGGERED_AT")
	for _, a := range alerts {
		triggered := "-"
		if a.TriggeredAt != nil {
			triggered = a.TriggeredAt.UTC().Format(tableTime)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Symbol, a.Kind,
			optional(a.Low), optional(a.High), optional(a.Percent), optional(a.ReferencePrice),
			a.Status, triggered)
	}
	return w.Flush()
}

func writeTriggerTable(out io.Writer, triggers []storage.AlertTrigger) error {
	if len(triggers) == 0 {
		fmt.Fprintln(out, "no triggered alerts")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALERT\tSYMBOL\tTRIGGERED_AT\tMESSAGE")
	for _, t := range triggers {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.AlertID, t.Symbol, t.TriggeredAt.UTC().Format(tableTime), t.Message)
	}
	return w.Flush()
}

func writeNewsTable(out io.Writer, items []storage.NewsItem) error {
	if len(items) == 0 {
		fmt.Fprintln(out, "no news stored")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPUBLISHED_AT\tTITLE")
	for _, n := range items {
		fmt.Fprintf(w, "%d\t%s\t%s\n", n.ID, n.PublishedAt.UTC().Format(time.RFC3339), n.Title)
	}
	return w.Flush()
}

func writeMatchTable(out io.Writer, matches []index.Match) error {
	if len(matches) == 0 {
		fmt.Fprintln(out, "index is empty")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DISTANCE\tSYMBOL\tSUMMARY")
	for _, m := range matches {
		fmt.Fprintf(w, "%.4f\t%s\t%s\n", m.Distance, m.Symbol, m.Text)
	}
	return w.Flush()
}

func optional(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}
