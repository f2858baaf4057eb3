// ccsutil drives the CCS jython interpreter from the command line:
// running harnessed-job acquisition scripts, reporting subsystem
// versions, and forwarding persisted summaries to the site archiver.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/lg"
	"github.com/lsst-camera-dh/jh-ccs-utils/internal/publisher"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/ccs"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/ccstools"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/config"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/etresults"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/siteutils"
)

// Version is set at build time.
var Version = "dev"

type rootOptions struct {
	host       string
	port       int
	configPath string
	debug      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "ccsutil",
		Short:         "CCS jython interpreter utilities for harnessed jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.PersistentFlags().StringVar(&opts.host, "host", "", "CCS interpreter host (default: this host)")
	root.PersistentFlags().IntVar(&opts.port, "port", ccs.DefaultPort, "CCS interpreter port")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "stand configuration YAML file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newRunCommand(opts),
		newVersionsCommand(opts),
		newPublishCommand(opts),
	)
	return root
}

func (o *rootOptions) logger() lg.Logger {
	return lg.New(&lg.Config{ServiceName: "ccsutil", Debug: o.debug, Format: "console"})
}

// standConfig loads the stand configuration when --config was given,
// folding its host and port into the options.
func (o *rootOptions) standConfig(logger lg.Logger) (*config.StandConfig, error) {
	if o.configPath == "" {
		return nil, nil
	}
	store, err := config.NewStore(config.FileStore, &config.FileConfig{Path: o.configPath}, logger)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadStandConfig(store)
	if err != nil {
		return nil, err
	}
	if o.host == "" {
		o.host = cfg.Host
	}
	if o.port == ccs.DefaultPort && cfg.Port != 0 {
		o.port = cfg.Port
	}
	return cfg, nil
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var raft bool
	cmd := &cobra.Command{
		Use:   "run <job-name> <ccs-script>",
		Short: "Run a harnessed job's CCS acquisition script",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger()
			defer logger.Sync()
			cfg, err := opts.standConfig(logger)
			if err != nil {
				return err
			}

			factory := ccstools.SetupFactory(ccstools.NewSetup)
			if raft {
				user := "ccs"
				if cfg != nil && cfg.ETraveler.User != "" {
					user = cfg.ETraveler.User
				}
				run, err := siteutils.RunNumber()
				if err != nil {
					return err
				}
				var connOpts []etresults.ConnOption
				if cfg != nil && cfg.ETraveler.URL != "" {
					connOpts = append(connOpts, etresults.WithBaseURL(cfg.ETraveler.URL))
				}
				conn := etresults.NewConnection(user, etresults.DBForRun(run), connOpts...)
				factory = func(configFile string) (*ccstools.Setup, error) {
					return ccstools.NewRaftSetup(cmd.Context(), configFile, conn, logger)
				}
			}

			jobName, script := args[0], args[1]
			logger.Info("running acquisition script",
				lg.String("job", jobName), lg.String("script", script))
			return ccstools.RunJob(jobName, script, factory, logger,
				ccs.WithEcho(os.Stdout))
		},
	}
	cmd.Flags().BoolVar(&raft, "raft", false, "query eTraveler for the raft contents before running")
	return cmd
}

func newVersionsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "Report the distribution versions of the attached subsystems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger()
			defer logger.Sync()
			cfg, err := opts.standConfig(logger)
			if err != nil {
				return err
			}

			mapping, err := ccstools.SubsystemMapping("")
			if err != nil {
				return err
			}
			if mapping == nil && cfg != nil {
				mapping = cfg.Subsystems
			}
			if mapping == nil {
				return fmt.Errorf("no subsystem mapping configured")
			}

			it, err := ccs.Dial(opts.host, opts.port, ccs.WithLogger(logger))
			if err != nil {
				return err
			}
			defer it.Close()

			subs, err := ccs.AttachSubsystems(it, mapping, logger)
			if err != nil {
				return err
			}
			for _, alias := range subs.Aliases() {
				info := subs.Versions[alias]
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-30s %-12s %s\n",
					alias, info.Project, info.Version, info.Rev)
			}
			return nil
		},
	}
}

func newPublishCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <summary.lims>",
		Short: "Forward a job's summary records to the site archiver topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger()
			defer logger.Sync()
			cfg, err := opts.standConfig(logger)
			if err != nil {
				return err
			}
			if cfg == nil || len(cfg.Kafka.Brokers) == 0 {
				return fmt.Errorf("publishing requires a stand configuration with kafka brokers")
			}

			jobName, err := siteutils.JobName()
			if err != nil {
				return err
			}
			run, err := siteutils.RunNumber()
			if err != nil {
				return err
			}

			pub := publisher.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
			defer pub.Close()
			return pub.PublishSummaryFile(context.Background(), jobName, run, args[0])
		},
	}
	return cmd
}
