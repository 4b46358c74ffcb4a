package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/barangay-portal/portal/internal/calendar"
)

// ExpandOptions configures the offline expansion command.
type ExpandOptions struct {
	Rule     string
	Start    time.Time
	Duration time.Duration
	From     time.Time
	To       time.Time
}

type expandedOccurrence struct {
	Start     time.Time `yaml:"start"`
	End       time.Time `yaml:"end"`
	Generated bool      `yaml:"generated"`
}

type expandReport struct {
	Rule        string               `yaml:"rule"`
	Summary     string               `yaml:"summary"`
	Occurrences []expandedOccurrence `yaml:"occurrences"`
}

// ExpandRule expands a rule for a synthetic event and writes the result as YAML.
func ExpandRule(opts ExpandOptions, out io.Writer) error {
	d, err := calendar.ParseDescriptor(opts.Rule)
	if err != nil {
		return err
	}
	ev := calendar.Event{
		Title:      "preview",
		Start:      opts.Start,
		End:        opts.Start.Add(opts.Duration),
		Recurring:  true,
		Recurrence: opts.Rule,
	}
	instances := calendar.Expand(ev, d, calendar.Window{Start: opts.From, End: opts.To})

	report := expandReport{Rule: d.String(), Summary: calendar.Describe(d)}
	for _, inst := range instances {
		report.Occurrences = append(report.Occurrences, expandedOccurrence{
			Start:     inst.Start,
			End:       inst.End,
			Generated: inst.Generated,
		})
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}

func newRRuleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rrule",
		Short: "Inspect recurrence rules",
	}

	var (
		start, from, to string
		duration        time.Duration
	)
	expand := &cobra.Command{
		Use:   "expand <rule>",
		Short: "Expand a rule into occurrences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := ExpandOptions{Rule: args[0], Duration: duration}
			var err error
			if opts.Start, err = time.Parse(time.RFC3339, start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			opts.From = opts.Start
			if from != "" {
				if opts.From, err = time.Parse(time.RFC3339, from); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}
			opts.To = opts.From.AddDate(0, 3, 0)
			if to != "" {
				if opts.To, err = time.Parse(time.RFC3339, to); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}
			return ExpandRule(opts, cmd.OutOrStdout())
		},
	}
	expand.Flags().StringVar(&start, "start", time.Now().UTC().Truncate(time.Hour).Format(time.RFC3339), "first occurrence (RFC3339)")
	expand.Flags().StringVar(&from, "from", "", "window start (RFC3339), defaults to --start")
	expand.Flags().StringVar(&to, "to", "", "window end (RFC3339), defaults to three months after --from")
	expand.Flags().DurationVar(&duration, "duration", time.Hour, "event length")

	describe := &cobra.Command{
		Use:   "describe <rule>",
		Short: "Render a rule as a readable phrase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), calendar.DescribeRule(args[0]))
			return err
		},
	}

	cmd.AddCommand(expand, describe)
	return cmd
}
