/*
Copyright © 2018 the Regimes authors.
This file is part of Regimes.

Regimes is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Regimes is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Regimes.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package regimesutil provides commands and configuration for the regimes
// command-line interface.
package regimesutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/regimes"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to Regimes.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "InputFile",
			usage: `
              InputFile is the path to the NetCDF grid file to be processed.
              The path can include environment variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), describeCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the path to the desired output table location.
              The file extension selects the format: '.csv' for delimited
              text, '.nc' for NetCDF, or '.xlsx' for a spreadsheet. It can
              include environment variables.`,
			defaultVal: "regimes_output.csv",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ScoreFile",
			usage: `
              ScoreFile is the path where the validity scores of the
              candidate cluster counts should be written as delimited text.
              If it is left blank, no score file is written. It can include
              environment variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile is the path to the desired logfile location. It can include
              environment variables. If LogFile is left blank, the logfile will be saved in
              the same location as the OutputFile.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Variables",
			usage: `
              Variables lists the names of the variables to include in the
              feature vectors, one component per variable.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "UnitAxis",
			usage: `
              UnitAxis is the name of the dimension that enumerates the
              units to be clustered; one feature vector is extracted per
              index of this dimension.`,
			defaultVal: "time",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ReductionModes",
			usage: `
              ReductionModes maps variable names to the reduction applied to
              their extra axes: one of 'raw-scalar', 'mean', 'variance',
              'min', or 'max'. Variables without an entry default to
              'raw-scalar' when they are already scalar per unit and 'mean'
              otherwise.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Expressions",
			usage: `
              Expressions maps names of derived feature components to
              expressions over the reduced variable values, for example
              {"tempC": "temperature - 273.15"}. Derived components are
              appended to the feature vectors after the variable components.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Normalize",
			usage: `
              Normalize rescales every feature component to zero mean and
              unit standard deviation before clustering. Components with
              zero variance are excluded from distance calculations.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "CandidateK",
			usage: `
              CandidateK specifies the cluster counts to consider: a single
              value fixes the cluster count, two values give an inclusive
              range to sweep, and three or more values are used as an
              explicit candidate list. The candidate with the lowest
              validity score is selected, ties going to the smaller count.`,
			defaultVal: []int{2, 10},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ChunkSize",
			usage: `
              ChunkSize is the maximum number of units extracted together,
              bounding peak memory use.`,
			defaultVal: 1024,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "MaxIterations",
			usage: `
              MaxIterations bounds the assignment/recompute cycles of each
              clustering fit.`,
			defaultVal: 100,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Tolerance",
			usage: `
              Tolerance stops a clustering fit early when the improvement in
              within-cluster dispersion between iterations falls below it.
              Zero disables the early stop.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Seed",
			usage: `
              Seed is the random seed for centroid initialization. Runs with
              the same seed, candidates, and input produce identical
              results.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "NumWorkers",
			usage: `
              NumWorkers is the number of parallel workers used for feature
              extraction and clustering. If < 1, the number of available
              CPUs is used.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("REGIMES")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case []int:
				if option.shorthand == "" {
					set.IntSlice(option.name, option.defaultVal.([]int), option.usage)
				} else {
					set.IntSliceP(option.name, option.shorthand, option.defaultVal.([]int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(describeCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("regimes: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "regimes",
	Short: "A grid-data reduction and clustering pipeline.",
	Long: `Regimes reduces each slice of a gridded dataset to a feature vector and
clusters the vectors to discover a small number of representative regimes.
Use the subcommands specified below to access the functionality.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'REGIMES_var' where 'var' is the
name of the variable to be set. Many configuration variables are additionally
allowed to contain environment variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of Regimes.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("Regimes v%s\n", regimes.Version)
	},
	DisableAutoGenTag: true,
}

// runCmd runs the reduction and clustering pipeline.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reduction pipeline.",
	Long: `run extracts one feature vector per unit of the UnitAxis dimension of the
input file, clusters the vectors, and writes the cluster assignment table to
the output file. Every unit of the input appears in the output exactly once;
units that could not be clustered are included with a status naming the
reason.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFile, err := checkOutputFile(Cfg.GetString("OutputFile"))
		if err != nil {
			return err
		}
		candidates, err := expandCandidateK(toIntSlice(Cfg.Get("CandidateK")))
		if err != nil {
			return err
		}
		return Run(
			cmd,
			checkLogFile(Cfg.GetString("LogFile"), outputFile),
			outputFile,
			os.ExpandEnv(Cfg.GetString("ScoreFile")),
			os.ExpandEnv(Cfg.GetString("InputFile")),
			Cfg.GetString("UnitAxis"),
			expandStringSlice(Cfg.GetStringSlice("Variables")),
			GetStringMapString("ReductionModes", Cfg),
			GetStringMapString("Expressions", Cfg),
			Cfg.GetBool("Normalize"),
			candidates,
			Cfg.GetInt("ChunkSize"),
			Cfg.GetInt("MaxIterations"),
			Cfg.GetFloat64("Tolerance"),
			int64(Cfg.GetInt("Seed")),
			Cfg.GetInt("NumWorkers"),
		)
	},
	DisableAutoGenTag: true,
}

// describeCmd lists the contents of an input file.
var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Describe the variables in an input file.",
	Long: `describe lists the variables in the input file along with their dimensions,
shapes, and fill values, to help choose the Variables and UnitAxis
configuration settings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Describe(cmd, os.ExpandEnv(Cfg.GetString("InputFile")))
	},
	DisableAutoGenTag: true,
}
