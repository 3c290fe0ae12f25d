package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/yourorg/edge-orchestrator/pkg/lifecycle"
	"github.com/yourorg/edge-orchestrator/pkg/operator"
	"github.com/yourorg/edge-orchestrator/pkg/orchestrator"
)

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Choose a workflow from the interactive menu",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(cmd, func(ctx context.Context, a *app) (*lifecycle.Report, error) {
			return a.dispatcher.Interactive(ctx, operator.NewConsole(os.Stdin, cmd.OutOrStdout()))
		})
	},
}

// phasedCommand builds a workflow command with link and attach subcommands.
func phasedCommand(name, short string, kind orchestrator.WorkflowKind) *cobra.Command {
	parent := &cobra.Command{
		Use:   name,
		Short: short,
	}

	for _, phase := range []lifecycle.Phase{lifecycle.PhaseLink, lifecycle.PhaseAttach} {
		phase := phase
		var mappingFile string
		sub := &cobra.Command{
			Use:   phase.String(),
			Short: kind.PhaseTitle(phase),
			RunE: func(cmd *cobra.Command, args []string) error {
				return dispatch(cmd, orchestrator.Request{
					Kind:        kind,
					Phase:       phase,
					MappingFile: mappingFile,
				})
			},
		}
		sub.Flags().StringVar(&mappingFile, "mapping", "", "mapping workbook (.xlsx)")
		_ = sub.MarkFlagRequired("mapping")
		parent.AddCommand(sub)
	}

	return parent
}

var (
	decommissionHostname string

	decommissionCmd = &cobra.Command{
		Use:   "decommission",
		Short: orchestrator.WorkflowDecommission.Title(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd, orchestrator.Request{
				Kind:     orchestrator.WorkflowDecommission,
				Hostname: decommissionHostname,
			})
		},
	}
)

var (
	replaceMapping string

	replaceCmd = &cobra.Command{
		Use:   "replace",
		Short: orchestrator.WorkflowReplace.Title(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd, orchestrator.Request{
				Kind:        orchestrator.WorkflowReplace,
				MappingFile: replaceMapping,
			})
		},
	}
)

var (
	reconfigureTemplate string

	reconfigureCmd = &cobra.Command{
		Use:   "reconfigure",
		Short: orchestrator.WorkflowReconfigure.Title(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd, orchestrator.Request{
				Kind:         orchestrator.WorkflowReconfigure,
				TemplateName: reconfigureTemplate,
			})
		},
	}
)

func init() {
	decommissionCmd.Flags().StringVar(&decommissionHostname, "hostname", "", "host name of the router to decommission")
	_ = decommissionCmd.MarkFlagRequired("hostname")

	replaceCmd.Flags().StringVar(&replaceMapping, "mapping", "", "mapping workbook (.xlsx)")
	_ = replaceCmd.MarkFlagRequired("mapping")

	reconfigureCmd.Flags().StringVar(&reconfigureTemplate, "template", "", "device template to roll out")
	_ = reconfigureCmd.MarkFlagRequired("template")
}

func dispatch(cmd *cobra.Command, req orchestrator.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return runWorkflow(cmd, func(ctx context.Context, a *app) (*lifecycle.Report, error) {
		return a.dispatcher.Dispatch(ctx, req)
	})
}

// runWorkflow runs fn against a wired app and prints its report. Row
// failures are printed with the report and surface as errRunFailed.
func runWorkflow(cmd *cobra.Command, fn func(ctx context.Context, a *app) (*lifecycle.Report, error)) error {
	report, err := withApp(fn)
	printReport(cmd, report)

	var rowErrs lifecycle.RowErrors
	if errors.As(err, &rowErrs) {
		return errRunFailed
	}
	return err
}
