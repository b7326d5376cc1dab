// Package printer formats resources and their statuses for terminals.
package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/collection"
	"github.com/opst/modelsync/pkg/status"
	corev1 "k8s.io/api/core/v1"
)

// Row is a line of the resource table.
type Row struct {
	Namespace string             `json:"namespace"`
	Name      string             `json:"name"`
	Status    resources.UIStatus `json:"status"`
	Actions   status.Actions     `json:"actions"`
	Pending   bool               `json:"pending,omitempty"`
	URL       string             `json:"url,omitempty"`
}

func rowOf(r resources.Resource, s resources.UIStatus, pending bool) Row {
	row := Row{
		Namespace: r.Namespace,
		Name:      r.Name,
		Status:    s,
		Actions:   status.ActionsFor(s),
		Pending:   pending,
	}
	if r.Status != nil {
		row.URL = r.Status.URL
	}
	return row
}

// FromResources resolves statuses of resources.
func FromResources(rs []resources.Resource) []Row {
	rows := make([]Row, 0, len(rs))
	for _, r := range rs {
		rows = append(rows, rowOf(r, status.Resolve(r), false))
	}
	return rows
}

// FromEntries converts entries of a collection.
func FromEntries(es []collection.Entry) []Row {
	rows := make([]Row, 0, len(es))
	for _, e := range es {
		rows = append(rows, rowOf(e.Resource, e.Status, e.Pending))
	}
	return rows
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if n < len(s) {
		return s[:n-3] + "..."
	}
	return s
}

// Table writes rows as an aligned table.
func Table(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAMESPACE\tNAME\tPHASE\tSTATE\tMESSAGE")
	for _, r := range rows {
		phase := string(r.Status.Phase)
		if r.Pending {
			phase += "*"
		}
		fmt.Fprintf(
			tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Namespace, r.Name, phase, r.Status.State, truncate(r.Status.Message, 80),
		)
	}
	return tw.Flush()
}

func lastSeen(ev corev1.Event) string {
	seen := ev.LastTimestamp.Time
	if seen.IsZero() {
		seen = ev.EventTime.Time
	}
	if seen.IsZero() {
		return "-"
	}
	return seen.Format("2006-01-02 15:04:05")
}

// Events writes Kubernetes events as an aligned table.
func Events(w io.Writer, events []corev1.Event) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LAST SEEN\tTYPE\tREASON\tMESSAGE")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", lastSeen(ev), ev.Type, ev.Reason, truncate(ev.Message, 80))
	}
	return tw.Flush()
}

// EventLine writes an event as a line, for events arriving one by one.
func EventLine(w io.Writer, ev corev1.Event) error {
	_, err := fmt.Fprintf(w, "%s  %s  %s  %s\n", lastSeen(ev), ev.Type, ev.Reason, truncate(ev.Message, 80))
	return err
}

// JSON writes v as indented json.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}

// JSONLine writes v as a line of json.
func JSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
