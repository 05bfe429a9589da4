package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skycoin/skydrone/pkg/control"
	"github.com/skycoin/skydrone/pkg/eventlog"
	"github.com/skycoin/skydrone/pkg/util/pathutil"
)

var (
	traceFrom   uint64
	traceJSON   bool
	traceFilter string
)

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().Uint64Var(&traceFrom, "from", 1, "first sequence number to print")
	traceCmd.Flags().BoolVar(&traceJSON, "json", false, "print records as JSON lines")
	traceCmd.Flags().StringVarP(&traceFilter, "type", "t", "", fmt.Sprintf("only print events of this type. Valid values: %v", control.AllEventTypes()))
}

var traceCmd = &cobra.Command{
	Use:   "trace <trace-db> [run-id]",
	Short: "Lists recorded runs, or prints the events of a run",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(_ *cobra.Command, args []string) {
		path, err := pathutil.ExpandPath(args[0])
		if err != nil {
			log.WithError(err).Fatalln("invalid trace db path")
		}

		if len(args) == 1 {
			runs, err := eventlog.Runs(path)
			if err != nil {
				log.WithError(err).Fatalln("Failed to list runs")
			}
			fmt.Println(strings.Join(runs, "\n"))
			return
		}

		var filter *control.EventType
		if traceFilter != "" {
			t, err := control.ParseEventType(traceFilter)
			if err != nil {
				log.WithError(err).Fatalln("invalid 'type' flag")
			}
			filter = &t
		}

		enc := json.NewEncoder(os.Stdout)
		err = eventlog.ReadRun(path, args[1], traceFrom, func(r eventlog.Record) bool {
			if filter != nil && r.Event.Type != *filter {
				return true
			}
			if traceJSON {
				if err := enc.Encode(r); err != nil {
					log.WithError(err).Fatalln("Failed to encode record")
				}
				return true
			}
			fmt.Printf("%6d %s %s\n", r.Seq, r.Event.Time.Format("15:04:05.000000"), r.Event)
			return true
		})
		if err != nil {
			log.WithError(err).Fatalln("Failed to read run")
		}
	},
}
