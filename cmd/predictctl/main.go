package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"iris-explainer/internal/client"
	"iris-explainer/internal/common"
	"iris-explainer/internal/ml"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	server  string
	timeout time.Duration
	asJSON  bool
}

func (o *options) client() *client.Client {
	return client.New(o.server, o.timeout)
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	server := os.Getenv(common.EnvServerURL)
	if server == "" {
		server = common.DefaultServerURL
	}

	root := &cobra.Command{
		Use:   "predictctl",
		Short: "Query a running iris explainer",
		Long: `predictctl talks to the explainer's JSON API.

Available subcommands:
  predict    - Predict a species and print its attributions
  model      - Show the loaded model
  importance - Show aggregated feature importance
  history    - List recent predictions`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.server, "server", server, "Explainer base URL (env "+common.EnvServerURL+")")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", common.DefaultClientTimeout, "Request timeout")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print raw JSON")

	root.AddCommand(
		newPredictCmd(opts),
		newModelCmd(opts),
		newImportanceCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

func newPredictCmd(opts *options) *cobra.Command {
	in := ml.DefaultInput()
	var htmlOut string

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict a species and print its attributions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Predict(cmd.Context(), in, htmlOut != "")
			if err != nil {
				return err
			}
			if htmlOut != "" {
				if err := os.WriteFile(htmlOut, []byte(res.PlotHTML), 0o644); err != nil {
					return fmt.Errorf("write force plot: %w", err)
				}
				res.PlotHTML = ""
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Prediction: %s\n", res.Label)
			if res.Explanation != nil {
				fmt.Fprintf(w, "base value %.4f  f(x) %.4f  (output %d)\n",
					res.Explanation.BaseValue, res.Explanation.OutputValue(), res.Explanation.OutputIndex)
			}
			for _, c := range res.Contributions {
				fmt.Fprintf(w, "  %-20s %6.2f  %+.4f\n", c.Feature, c.Value, c.Effect)
			}
			if htmlOut != "" {
				fmt.Fprintf(w, "force plot written to %s\n", htmlOut)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64Var(&in.SepalLength, "sepal-length", in.SepalLength, "Sepal length (cm)")
	f.Float64Var(&in.SepalWidth, "sepal-width", in.SepalWidth, "Sepal width (cm)")
	f.Float64Var(&in.PetalLength, "petal-length", in.PetalLength, "Petal length (cm)")
	f.Float64Var(&in.PetalWidth, "petal-width", in.PetalWidth, "Petal width (cm)")
	f.StringVar(&htmlOut, "html", "", "Also save the rendered force plot to this file")
	return cmd
}

func newModelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "model",
		Short: "Show the loaded model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := opts.client().Model(cmd.Context())
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), info)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "objective:    %s\n", info.Objective)
			fmt.Fprintf(w, "features:     %v\n", info.FeatureNames)
			fmt.Fprintf(w, "outputs:      %d\n", info.NumOutputs)
			fmt.Fprintf(w, "trees:        %d (max depth %d)\n", info.NumTrees, info.MaxDepth)
			fmt.Fprintf(w, "explained:    output %d\n", info.OutputIndex)
			return nil
		},
	}
}

func newImportanceCmd(opts *options) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "importance",
		Short: "Show aggregated feature importance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			imp, err := opts.client().Importance(cmd.Context(), top)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), imp)
			}

			w := cmd.OutOrStdout()
			for i, name := range imp.Top {
				s := imp.Features[name]
				if s == nil {
					continue
				}
				fmt.Fprintf(w, "%d. %-20s %.4f  (%d uses)\n", i+1, name, s.ImportanceScore, s.UsageCount)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", common.DefaultTopFeatures, "Number of features to rank")
	return cmd
}

func newHistoryCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent predictions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := opts.client().History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), records)
			}

			w := cmd.OutOrStdout()
			for _, r := range records {
				status := "ok"
				if r.Error != "" {
					status = r.Error
				}
				fmt.Fprintf(w, "%s  %s  label=%s  [%.1f %.1f %.1f %.1f]  %s\n",
					r.Timestamp.Format(time.RFC3339), r.ID, r.Label,
					r.Input.SepalLength, r.Input.SepalWidth, r.Input.PetalLength, r.Input.PetalWidth, status)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", common.DefaultHistoryLimit, "Maximum records to list")
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

