package printer_test

import (
	"strings"
	"testing"

	"github.com/opst/modelsync/cmd/modelsync/subcommands/internal/printer"
	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/collection"
	corev1 "k8s.io/api/core/v1"
)

func TestTable(t *testing.T) {
	t.Run("it writes a line for each row, marking pending statuses", func(t *testing.T) {
		ready := resources.Resource{}
		ready.Namespace, ready.Name = "kf", "m1"
		ready.Status = &resources.Status{Conditions: []resources.Condition{{Type: "Ready", Status: corev1.ConditionTrue}}}

		pending := resources.Resource{}
		pending.Namespace, pending.Name = "kf", "m2"

		rows := printer.FromResources([]resources.Resource{ready})
		rows = append(rows, printer.FromEntries([]collection.Entry{{
			Resource: pending,
			Status:   resources.UIStatus{Phase: resources.PhaseTerminating, Message: "Preparing to delete InferenceService..."},
			Pending:  true,
		}})...)

		buf := new(strings.Builder)
		if err := printer.Table(buf, rows); err != nil {
			t.Fatal(err)
		}

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 3 {
			t.Fatalf("unexpected table:\n%s", buf)
		}
		if !strings.Contains(lines[1], "m1") || !strings.Contains(lines[1], "ready") {
			t.Errorf("unexpected line: %s", lines[1])
		}
		if !strings.Contains(lines[2], "terminating*") {
			t.Errorf("unexpected line: %s", lines[2])
		}
		if rows[0].Actions.Copy != resources.PhaseReady || rows[1].Actions.Delete != resources.PhaseTerminating {
			t.Errorf("unexpected actions: %+v", rows)
		}
	})
}
