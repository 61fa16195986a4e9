package cli

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/epiboard/internal/query"
)

// QueryOptions holds flags for the query command. Empty values select the
// view defaults.
type QueryOptions struct {
	*RootOptions
	MinDate string
	Date    string
	Country string
	N       int
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <view>",
		Short: "Compute a view from the stored facts",
		Long: fmt.Sprintf(`Compute one of the derived views and print it.

Views: %s

Example:
  epiboard query countries --min-date 2020-03-01
  epiboard query top --date 2020-04-01 --n 5 --format json
  epiboard query daily --country Germany`, strings.Join(query.Views(), ", ")),
		Args:          cobra.ExactArgs(1),
		ValidArgs:     query.Views(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MinDate, "min-date", "", "first date to include (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Date, "date", "", "selected date for top and growth views (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Country, "country", "", "restrict to one country")
	cmd.Flags().IntVarP(&opts.N, "n", "n", 0, fmt.Sprintf("number of ranked countries (1-%d)", query.MaxN))

	return cmd
}

// values converts the set flags to the parameter names the HTTP surface
// accepts, so both share one parser.
func (o *QueryOptions) values(cmd *cobra.Command) url.Values {
	v := url.Values{}
	if o.MinDate != "" {
		v.Set("min_date", o.MinDate)
	}
	if o.Date != "" {
		v.Set("date", o.Date)
	}
	if o.Country != "" {
		v.Set("country", o.Country)
	}
	if cmd.Flags().Changed("n") {
		v.Set("n", fmt.Sprint(o.N))
	}
	return v
}

func runQuery(opts *QueryOptions, view string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if !slices.Contains(query.Views(), view) {
		return formatter.Fail("invalid view",
			fmt.Errorf("unknown view %q: must be one of %v", view, query.Views()))
	}
	params, err := query.ParseParams(opts.values(cmd))
	if err != nil {
		return formatter.Fail("invalid parameters", err)
	}

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return formatter.Fail("failed to open", err)
	}
	defer a.Close()

	result, err := a.views.View(commandContext(cmd.Context()), view, params)
	if err != nil {
		return formatter.Fail("query failed", err)
	}
	return formatter.Success(result)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show stored state and recent ingest runs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			a, err := openApp(rootOpts)
			if err != nil {
				return formatter.Fail("failed to open", err)
			}
			defer a.Close()

			status, err := a.views.View(commandContext(cmd.Context()), query.ViewStatus, query.Params{})
			if err != nil {
				return formatter.Fail("status failed", err)
			}
			return formatter.Success(status)
		},
	}
}
