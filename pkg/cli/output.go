package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ma12/companion-api/pkg/store"
)

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

func writeObject(w io.Writer, format outputFormat, obj any) error {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML:
		data, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, string(data))
		return err
	case formatTable:
		return fmt.Errorf("table format requires a specific formatter")
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func writeSubmissionTable(w io.Writer, subs []store.Submission) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTYPE\tNAME\tEMAIL\tCREATED")
	for _, s := range subs {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.ID, s.Type, s.Name, s.Email, formatTime(s.CreatedAt))
	}
	_ = tw.Flush()
}

func writeStatsTable(w io.Writer, st store.Stats) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	rows := []struct {
		label string
		value int64
	}{
		{"Total forms", st.Total},
		{"Member support", st.MemberCount},
		{"App support", st.AppCount},
		{"Emails sent", st.EmailSentCount},
		{"Emails pending", st.PendingCount},
		{"Forms today", st.TodayCount},
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s:\t%s\n", r.label, strconv.FormatInt(r.value, 10))
	}
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
