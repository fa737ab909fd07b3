package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/logreplay/internal/config"
	"github.com/austindbirch/logreplay/internal/logging"
	"github.com/austindbirch/logreplay/internal/publish"
)

var tailOpts struct {
	nsqdAddr    string
	lookupdAddr string
	topic       string
	channel     string
	runID       string
	failures    bool
}

// tailCmd represents the tail command
var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow replay results published to NSQ",
	Long: `Subscribe to the result topic a "replayctl run --nsqd-addr" publishes to and
print every envelope as it arrives, until interrupted.

Examples:
  replayctl tail --nsqd-addr localhost:4150
  replayctl tail --lookupd-addr localhost:4161 --failures
  replayctl tail --nsqd-addr localhost:4150 --run-id 1f0c... --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d := config.Defaults().Sinks
		nsqdAddr := tailOpts.nsqdAddr
		if nsqdAddr == "" {
			nsqdAddr = viper.GetString("nsqd-addr")
		}
		if nsqdAddr == "" && tailOpts.lookupdAddr == "" {
			return fmt.Errorf("one of --nsqd-addr or --lookupd-addr is required")
		}
		topic := tailOpts.topic
		if topic == "" {
			topic = d.ResultsTopic
			if tailOpts.failures {
				topic = d.FailuresTopic
			}
		}

		logger := logging.New("logreplay-tail")
		logger.SetOutput(cmd.ErrOrStderr())
		if verbose {
			logger.SetLevel(logging.LevelDebug)
		}

		printer := &tailPrinter{w: cmd.OutOrStdout(), runID: tailOpts.runID, json: outputJSON}
		consumer, err := publish.NewConsumer(topic, tailOpts.channel, 64, publish.NewHandler(printer.print, logger))
		if err != nil {
			return err
		}
		if err := publish.Connect(consumer, nsqdAddr, tailOpts.lookupdAddr); err != nil {
			consumer.Stop()
			return err
		}
		logger.Plain().WithFields(map[string]any{"topic": topic, "channel": tailOpts.channel}).Info("tailing results")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		select {
		case <-ctx.Done():
		case <-consumer.StopChan:
		}
		consumer.Stop()
		<-consumer.StopChan
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tailCmd)

	f := tailCmd.Flags()
	f.StringVar(&tailOpts.nsqdAddr, "nsqd-addr", "", "nsqd TCP address (host:4150)")
	f.StringVar(&tailOpts.lookupdAddr, "lookupd-addr", "", "nsqlookupd HTTP address (host:4161), used instead of --nsqd-addr")
	f.StringVar(&tailOpts.topic, "topic", "", "topic to follow (default the result topic)")
	f.StringVar(&tailOpts.channel, "channel", "replayctl-tail#ephemeral", "NSQ channel")
	f.StringVar(&tailOpts.runID, "run-id", "", "only print results of this run")
	f.BoolVar(&tailOpts.failures, "failures", false, "follow the failure topic")
}

type tailPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	runID string
	json  bool
}

func (p *tailPrinter) print(_ context.Context, r publish.Received) error {
	if p.runID != "" && r.Result.RunID != p.runID {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		return json.NewEncoder(p.w).Encode(r)
	}
	_, err := fmt.Fprintln(p.w, tailLine(r))
	return err
}

// tailLine renders an envelope like a result line, prefixed by run and seq.
func tailLine(r publish.Received) string {
	res := r.Result
	status := strconv.Itoa(res.Status)
	detail := res.Reason
	if res.ErrorKind != "" {
		status = "ERR"
		detail = res.ErrorKind
		if res.Status != 0 {
			detail += " " + strconv.Itoa(res.Status)
		}
	}
	return strings.Join([]string{
		res.RunID,
		strconv.FormatInt(res.Seq, 10),
		res.URL,
		status,
		detail,
		strconv.FormatFloat(res.ElapsedSeconds, 'f', 6, 64),
	}, "\t")
}
