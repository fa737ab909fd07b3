package cmd

import (
	"fmt"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/austindbirch/logreplay/internal/accesslog"
	"github.com/austindbirch/logreplay/internal/logging"
)

var convertOpts struct {
	input      string
	output     string
	delimiter  string
	unixTime   bool
	millisec   bool
	statusCode bool
	columns    []int
}

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert an httpd access log into replay input",
	Long: `Convert an httpd access log into the tab separated
"time<TAB>path<TAB>latency<TAB>status" lines that "replayctl run" reads.

Rows are split on --delimiter with double quotes grouping fields, so the
request line "GET /path HTTP/1.1" stays one column. Rows that do not have
the configured columns are skipped with a warning.

Examples:
  replayctl convert -i access_log --convert-unixtime > requests.tsv
  replayctl convert -i access_log --convert-unixtime --convert-millisec --status-code
  replayctl convert --columns 3,5,8,11 < access_log`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		delimiter := unescapeDelimiter(convertOpts.delimiter)
		if utf8.RuneCountInString(delimiter) != 1 {
			return fmt.Errorf("deny multiple characters as delimiter: %q", delimiter)
		}
		cols := accesslog.DefaultColumns
		if len(convertOpts.columns) > 0 {
			if len(convertOpts.columns) != 4 {
				return fmt.Errorf("--columns takes four indices: received time, request, status, response time")
			}
			c := convertOpts.columns
			cols = accesslog.Columns{ReceivedTime: c[0], Request: c[1], Status: c[2], ResponseTime: c[3]}
		}

		logger := logging.New("logreplay-convert")
		logger.SetOutput(cmd.ErrOrStderr())
		if verbose {
			logger.SetLevel(logging.LevelDebug)
		}

		r, _ := utf8.DecodeRuneInString(delimiter)
		conv, err := accesslog.NewConverter(accesslog.ConvertOptions{
			Delimiter:  r,
			Columns:    cols,
			UnixTime:   convertOpts.unixTime,
			Millisec:   convertOpts.millisec,
			StatusCode: convertOpts.statusCode,
			OnSkip: func(line int, err error) {
				logger.Plain().WithField("line", line).WithError(err).Warn("skipping row")
			},
		})
		if err != nil {
			return err
		}

		in, err := openInput(convertOpts.input, cmd.InOrStdin())
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := openOutput(convertOpts.output, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer out.Close()

		stats, err := conv.Convert(cmd.Context(), in, out)
		if err != nil {
			return err
		}
		logger.Plain().WithFields(map[string]any{
			"converted": stats.Converted,
			"skipped":   stats.Skipped,
		}).Debug("conversion finished")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)

	f := convertCmd.Flags()
	f.StringVarP(&convertOpts.input, "input", "i", "-", "input file (- for stdin)")
	f.StringVarP(&convertOpts.output, "output", "o", "-", "output file (- for stdout)")
	f.StringVarP(&convertOpts.delimiter, "delimiter", "d", " ", "delimiter of the access log")
	f.BoolVar(&convertOpts.unixTime, "convert-unixtime", false, "convert the received time to unix seconds")
	f.BoolVar(&convertOpts.millisec, "convert-millisec", false, "convert the response time from microseconds to milliseconds")
	f.BoolVar(&convertOpts.statusCode, "status-code", false, "output the HTTP status code")
	f.IntSliceVar(&convertOpts.columns, "columns", nil, "column indices: received time, request, status, response time (default 3,5,6,10)")
}
