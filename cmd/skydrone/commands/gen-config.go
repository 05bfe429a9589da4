package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skycoin/skydrone/pkg/simulation"
	"github.com/skycoin/skydrone/pkg/util/pathutil"
)

var (
	output        string
	replace       bool
	traceDB       string
	configLocType = pathutil.WorkingDirLoc
)

func init() {
	rootCmd.AddCommand(genConfigCmd)
	genConfigCmd.Flags().StringVarP(&output, "output", "o", "", "path of output config file. Uses default of 'type' flag if unspecified.")
	genConfigCmd.Flags().BoolVarP(&replace, "replace", "r", false, "whether to allow rewrite of a file that already exists.")
	genConfigCmd.Flags().StringVar(&traceDB, "trace-db", "", "record events into a BoltDB file at this path instead of memory")
	genConfigCmd.Flags().VarP(&configLocType, "type", "m", fmt.Sprintf("config generation mode. Valid values: %v", pathutil.AllConfigLocationTypes()))
}

var genConfigCmd = &cobra.Command{
	Use:   "gen-config",
	Short: "Generates a sample network configuration",
	PreRun: func(_ *cobra.Command, _ []string) {
		if output == "" {
			path, err := pathutil.SimulationDefaults().Get(configLocType)
			if err != nil {
				log.WithError(err).Fatalln("invalid config type")
			}
			output = path
			log.Infof("no 'output,o' flag is empty, using default path: %s", output)
		}
		var err error
		if output, err = pathutil.ExpandPath(output); err != nil {
			log.WithError(err).Fatalln("invalid output provided")
		}
		if output, err = filepath.Abs(output); err != nil {
			log.WithError(err).Fatalln("invalid output provided")
		}
	},
	Run: func(_ *cobra.Command, _ []string) {
		conf := simulation.DefaultConfig()
		if traceDB != "" {
			conf.Trace.Type = simulation.TraceBoltDB
			conf.Trace.Location = traceDB
		}
		if err := pathutil.WriteJSONConfig(conf, output, replace); err != nil {
			log.WithError(err).Fatalln("Failed to write config")
		}
	},
}
