package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/featurepipe/config"
	"github.com/YuminosukeSato/featurepipe/pipeline"
	"github.com/YuminosukeSato/featurepipe/pkg/errors"
	"github.com/YuminosukeSato/featurepipe/pkg/log"
	"github.com/YuminosukeSato/featurepipe/table"
)

var version = "0.1.0"

type rootOptions struct {
	configPath string
	logLevel   string
}

// load reads the configuration file and sets up logging on stderr
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := log.SetupLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

// safeRunE runs fn with panic recovery
func safeRunE(name string, fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return errors.SafeExecute(name, func() error { return fn(cmd, args) })
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "featurepipe",
		Short: "Train, register and serve tabular binary classifiers",
		Long: `featurepipe fits a one-hot encoder, a standard scaler and a 64/32/1 MLP on
rows from a feature store, registers them as one versioned bundle, and reloads
the bundle for batch and online scoring.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "featurepipe.yaml", "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")

	root.AddCommand(
		newTrainCmd(opts),
		newPredictCmd(opts),
		newVersionsCmd(opts),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "featurepipe v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newTrainCmd(opts *rootOptions) *cobra.Command {
	var lossCurve string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit the feature transformer and classifier and register a new version",
		Args:  cobra.NoArgs,
		RunE: safeRunE("train", func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, closeStore, err := cfg.Store.OpenTrainingStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()
			reg, err := cfg.Registry.Open(ctx)
			if err != nil {
				return err
			}

			res, err := pipeline.Train(ctx, pipeline.TrainOptions{
				Store:     store,
				Registry:  reg,
				ModelName: cfg.ModelName,
				Features: pipeline.Features{
					Categorical:   cfg.Features.Categorical,
					Numeric:       cfg.Features.Numeric,
					HandleUnknown: cfg.Features.HandleUnknown,
				},
				Training:      cfg.Training,
				RandomState:   cfg.Model.RandomState,
				Threshold:     cfg.Model.Threshold,
				LossCurvePath: lossCurve,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"name":       res.Bundle.Name,
				"version":    res.Version,
				"run_id":     res.Bundle.RunID,
				"final_loss": res.History.FinalLoss(),
				"metrics":    res.Metrics,
			})
		}),
	}
	cmd.Flags().StringVar(&lossCurve, "loss-curve", "", "Write the per-epoch loss curve to this image file")
	return cmd
}

func newPredictCmd(opts *rootOptions) *cobra.Command {
	var modelVersion int
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Score feature vectors with a registered model",
	}
	cmd.PersistentFlags().IntVar(&modelVersion, "model-version", 0, "Registered model version (0 = latest)")

	var output string
	batch := &cobra.Command{
		Use:   "batch",
		Short: "Score every row of the serving store and write CSV",
		Args:  cobra.NoArgs,
		RunE: safeRunE("predict batch", func(cmd *cobra.Command, args []string) error {
			cfg, dep, err := loadDeployment(cmd, opts, modelVersion)
			if err != nil {
				return err
			}
			store, closeStore, err := cfg.Store.OpenServingStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			scored, err := dep.PredictBatch(cmd.Context(), store)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return errors.Wrapf(err, "failed to create %s", output)
				}
				defer f.Close()
				w = f
			}
			return table.WriteCSV(w, scored)
		}),
	}
	batch.Flags().StringVarP(&output, "output", "o", "", "Write predictions to this CSV file instead of stdout")

	var keys []string
	online := &cobra.Command{
		Use:   "online",
		Short: "Score feature vectors looked up by primary key",
		Args:  cobra.NoArgs,
		RunE: safeRunE("predict online", func(cmd *cobra.Command, args []string) error {
			cfg, dep, err := loadDeployment(cmd, opts, modelVersion)
			if err != nil {
				return err
			}
			store, closeStore, err := cfg.Store.OpenServingStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			probs, err := dep.PredictOnline(cmd.Context(), store, keys...)
			if err != nil {
				return err
			}
			results := make([]map[string]interface{}, len(keys))
			for i, k := range keys {
				results[i] = map[string]interface{}{
					"key":                     k,
					pipeline.ProbabilityColumn: probs[i],
				}
			}
			return writeJSON(cmd.OutOrStdout(), results)
		}),
	}
	online.Flags().StringSliceVarP(&keys, "key", "k", nil, "Primary key to score (repeatable)")
	_ = online.MarkFlagRequired("key")

	cmd.AddCommand(batch, online)
	return cmd
}

func loadDeployment(cmd *cobra.Command, opts *rootOptions, modelVersion int) (*config.Config, *pipeline.Deployment, error) {
	cfg, err := opts.load(cmd)
	if err != nil {
		return nil, nil, err
	}
	reg, err := cfg.Registry.Open(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	dep, err := pipeline.Load(cmd.Context(), reg, cfg.ModelName, modelVersion)
	if err != nil {
		return nil, nil, err
	}
	return cfg, dep, nil
}

func newVersionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List registered versions of the configured model",
		Args:  cobra.NoArgs,
		RunE: safeRunE("versions", func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			reg, err := cfg.Registry.Open(cmd.Context())
			if err != nil {
				return err
			}
			versions, err := reg.Versions(cmd.Context(), cfg.ModelName)
			if err != nil {
				return err
			}
			for _, v := range versions {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		}),
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return errors.Newf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
