package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aws-samples/eks-node-rollout/internal/awsapi"
	"github.com/aws-samples/eks-node-rollout/internal/config"
	"github.com/aws-samples/eks-node-rollout/internal/engine"
	"github.com/aws-samples/eks-node-rollout/internal/models"
	"github.com/aws-samples/eks-node-rollout/internal/notify"
	"github.com/aws-samples/eks-node-rollout/internal/output"
	"github.com/aws-samples/eks-node-rollout/internal/reminder"
	"github.com/aws-samples/eks-node-rollout/internal/rollout"
	"github.com/aws-samples/eks-node-rollout/internal/selector"
	"github.com/aws-samples/eks-node-rollout/internal/state"
	"github.com/aws-samples/eks-node-rollout/internal/version"
	"github.com/aws-samples/eks-node-rollout/internal/watcher"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "ekrollout",
		Short: "Roll hardened AMIs out to EKS managed node groups",
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(),
		"Path to the YAML configuration file")

	root.AddCommand(
		newRunCmd(&configPath),
		newTargetsCmd(&configPath),
		newCheckAMICmd(&configPath),
		newHandleEventCmd(&configPath),
		newRemindCmd(&configPath),
		newDoctorCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

// defaultConfigPath returns ~/.config/ekrollout/config.yaml, or the bare
// file name when the home directory cannot be resolved (containers).
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "ekrollout", "config.yaml")
}

// runtime bundles everything the subcommands need after setup.
type runtime struct {
	cfg     *config.Config
	clients *awsapi.ClientSet
	log     zerolog.Logger
}

// setup loads configuration, builds the logger, and constructs the AWS
// client set.
func setup(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.NewFileLoader(configPath).Load()
	if err != nil {
		return nil, err
	}

	log := newLogger(cfg.LogLevel)

	awsCfg, err := awsapi.LoadConfig(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:     cfg,
		clients: awsapi.NewClientSet(awsCfg),
		log:     log,
	}, nil
}

func newLogger(level string) zerolog.Logger {
	return zerolog.New(os.Stderr).
		Level(loggerLevel(level)).
		With().
		Timestamp().
		Str("service", "ekrollout").
		Logger()
}

func loggerLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "debug":
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// newEngine wires the full rollout stack from a runtime.
func newEngine(rt *runtime) (*engine.DefaultEngine, error) {
	flavor, err := rollout.FlavorFromParameter(rt.cfg.AMIParameter)
	if err != nil {
		return nil, err
	}

	recorder := state.NewDynamoRecorder(rt.clients.DynamoDB, rt.cfg.StateTable)
	w := watcher.NewParameterWatcher(rt.clients.SSM, rt.cfg.AMIParameter)
	sel := selector.NewEKSSelector(rt.clients.EKS, rt.log)
	ctrl := rollout.NewController(
		rt.clients.EKS,
		rt.clients.EC2,
		recorder,
		flavor,
		rollout.Options{
			RolloutTimeout: time.Duration(rt.cfg.RolloutTimeout),
			PollInterval:   time.Duration(rt.cfg.PollInterval),
		},
		rt.log,
	)

	return engine.NewDefaultEngine(w, sel, recorder, ctrl, engine.Options{
		AMIParameter:           rt.cfg.AMIParameter,
		ClusterTags:            rt.cfg.ClusterTags,
		ConcurrencyLimit:       rt.cfg.ConcurrencyLimit,
		StaleInProgressTimeout: time.Duration(rt.cfg.StaleInProgressTimeout),
	}, rt.log), nil
}

func newRunCmd(configPath *string) *cobra.Command {
	var reportFmt string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one rollout run (the scheduled entry point)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			if !rt.cfg.IsEnabled() {
				rt.log.Info().Msg("rollout is disabled by configuration, nothing to do")
				return nil
			}

			eng, err := newEngine(rt)
			if err != nil {
				return err
			}
			report, err := eng.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("rollout run failed: %w", err)
			}
			return printReport(report, reportFmt)
		},
	}

	cmd.Flags().StringVar(&reportFmt, "report", "table", "Output format: json or table")
	return cmd
}

func newHandleEventCmd(configPath *string) *cobra.Command {
	var (
		reportFmt string
		eventFile string
	)

	cmd := &cobra.Command{
		Use:   "handle-event",
		Short: "React to an Image Builder build notification",
		Long: "Reads an EC2 Image Builder state-change notification (raw or SNS-wrapped)\n" +
			"and starts a rollout run when the event announces an AVAILABLE image.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}

			event, err := readEvent(eventFile)
			if err != nil {
				return err
			}
			if !event.Available() {
				rt.log.Info().
					Str("status", event.Status).
					Str("reason", event.Reason).
					Msg("image is not available, no rollout started")
				return nil
			}
			if !rt.cfg.IsEnabled() {
				rt.log.Info().Str("ami", event.AMI).Msg("rollout is disabled by configuration, ignoring build event")
				return nil
			}

			eng, err := newEngine(rt)
			if err != nil {
				return err
			}
			report, err := eng.RunWithAMI(cmd.Context(), models.AMIReference{
				ID:         event.AMI,
				ObservedAt: time.Now().UTC(),
			})
			if err != nil {
				return fmt.Errorf("rollout run failed: %w", err)
			}
			return printReport(report, reportFmt)
		},
	}

	cmd.Flags().StringVar(&eventFile, "event-file", "-", "Event JSON file path, or - for stdin")
	cmd.Flags().StringVar(&reportFmt, "report", "table", "Output format: json or table")
	return cmd
}

func readEvent(path string) (*notify.BuildEvent, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open event file %q: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	return notify.ParseImageBuilderEvent(r)
}

func newTargetsCmd(configPath *string) *cobra.Command {
	var reportFmt string

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Resolve and print the node groups a run would act on",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}

			sel := selector.NewEKSSelector(rt.clients.EKS, rt.log)
			res, err := sel.ResolveTargets(cmd.Context(), rt.cfg.ClusterTags)
			if err != nil {
				return fmt.Errorf("resolve targets: %w", err)
			}

			if reportFmt == "json" {
				return printJSON(res)
			}
			output.RenderTargets(os.Stdout, res.Targets)
			for _, s := range res.Skipped {
				fmt.Printf("skipped %s/%s: %s\n", s.ClusterName, s.NodegroupName, s.Detail)
			}
			for _, ce := range res.ClusterErrors {
				fmt.Printf("cluster error %s: %s\n", ce.ClusterName, ce.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reportFmt, "report", "table", "Output format: json or table")
	return cmd
}

func newCheckAMICmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-ami",
		Short: "Check the AMI parameter for an update without rolling out",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}

			recorder := state.NewDynamoRecorder(rt.clients.DynamoDB, rt.cfg.StateTable)
			known, _, err := state.GetSourcePointer(cmd.Context(), recorder, rt.cfg.AMIParameter)
			if err != nil {
				return err
			}

			w := watcher.NewParameterWatcher(rt.clients.SSM, rt.cfg.AMIParameter)
			ref, err := w.CheckForUpdate(cmd.Context(), known)
			if err != nil {
				return err
			}
			if ref == nil {
				fmt.Printf("up to date: %s\n", known)
				return nil
			}
			fmt.Printf("update available: %s (recorded: %s)\n", ref.ID, displayAMI(known))
			return nil
		},
	}
	return cmd
}

func displayAMI(id string) string {
	if id == "" {
		return "none"
	}
	return id
}

func newRemindCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Check parent-image freshness and publish the result to SNS",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			if rt.cfg.ImagePipelineARN == "" || rt.cfg.SNSTopicARN == "" {
				return fmt.Errorf("remind requires image_pipeline_arn and sns_topic_arn in the configuration")
			}

			checker := reminder.NewChecker(
				rt.clients.ImageBuilder,
				rt.clients.SSM,
				rt.clients.SNS,
				rt.cfg.ImagePipelineARN,
				rt.cfg.AMIParameter,
				rt.cfg.SNSTopicARN,
			)
			notice, err := checker.Check(cmd.Context())
			if err != nil {
				return fmt.Errorf("parent image check failed: %w", err)
			}

			if notice.Stale {
				rt.log.Warn().
					Str("parameter_ami", notice.ParameterAMI).
					Str("pipeline_parent_ami", notice.PipelineParentAMI).
					Msg("pipeline parent image is behind the published parameter")
			} else {
				rt.log.Info().Msg("pipeline parent image is up to date")
			}
			fmt.Println(notice.Message)
			return nil
		},
	}
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.Info())
		},
	}
}

// printReport renders a run report to stdout in the requested format.
func printReport(report *models.RunReport, format string) error {
	if format == "json" {
		return printJSON(report)
	}
	output.RenderRunReport(os.Stdout, report, output.TableOptions{})
	return nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
