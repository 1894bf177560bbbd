package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/melih/lighthouse-release/internal/core/domain"
	"github.com/melih/lighthouse-release/internal/core/pipeline"
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Full release: publish with push enabled, then run the hardware matrix",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, pipeline.Trigger{
			Kind:      domain.TriggerRelease,
			CustomTag: viper.GetString("custom_tag"),
		})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Push-to-main validation: build everything, push disabled",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, pipeline.Trigger{
			Kind:      domain.TriggerPushToMain,
			CustomTag: viper.GetString("custom_tag"),
		})
	},
}

var testCmd = &cobra.Command{
	Use:   "test [target]",
	Short: "Manual dispatch: run one hardware target's test cycle standalone",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trig := pipeline.Trigger{
			Kind:      domain.TriggerManual,
			CustomTag: viper.GetString("custom_tag"),
			ForcePush: viper.GetBool("force_push"),
		}
		if len(args) == 1 {
			trig.Target = args[0]
		}
		return runPipeline(cmd, trig)
	},
}

func runPipeline(cmd *cobra.Command, trig pipeline.Trigger) error {
	controller, cleanup, err := newController(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()
	_, err = controller.Run(cmd.Context(), trig)
	return err
}

func init() {
	rootCmd.AddCommand(releaseCmd, validateCmd, testCmd)
}
