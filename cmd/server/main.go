// @title chatwatch API
// @version 1.0
// @description chatwatch 群组与频道静默采集服务 API
// @host localhost:19970
// @BasePath /api/v1
// @schemes http
package main

//go:generate swag init -g cmd/server/main.go -d ../../ -o ../../docs

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootOptions 根命令参数
type rootOptions struct {
	configPath string
	review     bool
	once       bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "chatwatch",
		Short: "chatwatch - silent Telegram group and channel ingestion",
		Long: `chatwatch periodically reads new messages from every group and channel the
account belongs to, classifies them with a local model and flags urgent
messages and duplicated topics. It never marks anything as read.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case opts.review:
				return runReview(cmd.Context(), opts.configPath, cmd.OutOrStdout())
			case opts.once:
				return runOnce(cmd.Context(), opts.configPath)
			default:
				return runServe(opts.configPath)
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (default: <data dir>/config.yaml)")
	cmd.Flags().BoolVar(&opts.review, "review", false, "print the review report from the local database and exit without contacting the network")
	cmd.Flags().BoolVar(&opts.once, "once", false, "run a single fetch and analysis cycle and exit")
	cmd.MarkFlagsMutuallyExclusive("review", "once")

	cmd.AddCommand(newLoginCmd(opts))
	return cmd
}
