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

package regimesutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/regimes"
	"github.com/spf13/cast"
)

// expandStringSlice expands environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// checkOutputFile makes sure that the output file is specified, has a
// supported extension, and its directory exists, and expands any
// environment variables.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`you need to specify an output file configuration variable (for example: OutputFile="output.csv")`)
	}
	f = os.ExpandEnv(f)
	if _, err := regimes.NewSink(f); err != nil {
		return f, err
	}
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("regimes: the OutputFile directory doesn't exist: %v", err)
	}
	return f, nil
}

// checkLogFile fills in a default value for the log file path if one isn't
// specified.
func checkLogFile(logFile, outputFile string) string {
	if logFile == "" {
		logFile = strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + ".log"
	}
	return os.ExpandEnv(logFile)
}

// toIntSlice converts a viper configuration value to a slice of integers,
// accounting for the fact that it might be a JSON array if it was set from
// a command line argument.
func toIntSlice(s interface{}) []int {
	if str, ok := s.(string); ok {
		var o []int
		if err := json.Unmarshal([]byte(str), &o); err != nil {
			panic(fmt.Errorf("regimes: reading CandidateK: %v", err))
		}
		return o
	}
	return cast.ToIntSlice(s)
}

// expandCandidateK interprets the CandidateK configuration value: one value
// fixes the cluster count, two values give an inclusive range, and longer
// lists are used as-is.
func expandCandidateK(k []int) ([]int, error) {
	switch len(k) {
	case 0:
		return nil, fmt.Errorf("regimes: CandidateK must not be empty")
	case 1:
		return k, nil
	case 2:
		lo, hi := k[0], k[1]
		if lo > hi {
			return nil, fmt.Errorf("regimes: invalid CandidateK range [%d,%d]", lo, hi)
		}
		o := make([]int, 0, hi-lo+1)
		for i := lo; i <= hi; i++ {
			o = append(o, i)
		}
		return o, nil
	}
	return k, nil
}

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) map[string]string {
	i := cfg.Get(varName)
	switch i.(type) {
	case map[string]string:
		return i.(map[string]string)
	case map[string]interface{}:
		return cast.ToStringMapString(i)
	case string:
		b := bytes.NewBuffer(([]byte)(i.(string)))
		d := json.NewDecoder(b)
		o := make(map[string]string)
		if err := d.Decode(&o); err != nil {
			panic(err)
		}
		return o
	default:
		panic(fmt.Errorf("invalid type for getStringMapString variable %s: %#v", varName, i))
	}
}

// featureSpecs builds the extraction specification from the configuration:
// one component per selected variable, in the given order, followed by the
// derived-expression components in name order. Variables without a
// configured reduction mode default to raw-scalar when they are already
// scalar per unit and mean otherwise.
func featureSpecs(ds *regimes.Dataset, unitAxis string, variables []string,
	modes, expressions map[string]string) ([]regimes.FeatureSpec, error) {
	if len(variables) == 0 && len(expressions) == 0 {
		return nil, fmt.Errorf(`you need to specify the variables to include (for example: Variables="temperature,pressure")`)
	}
	var specs []regimes.FeatureSpec
	for _, v := range variables {
		spec := regimes.FeatureSpec{Variable: v}
		if s, ok := modes[v]; ok {
			mode, err := regimes.ParseReductionMode(s)
			if err != nil {
				return nil, err
			}
			spec.Mode = mode
		} else {
			spec.Mode = defaultMode(ds, unitAxis, v)
		}
		specs = append(specs, spec)
	}
	names := make([]string, 0, len(expressions))
	for name := range expressions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		specs = append(specs, regimes.FeatureSpec{Name: name, Expr: expressions[name]})
	}
	return specs, nil
}

// defaultMode is raw-scalar for variables that are already scalar per unit
// and mean otherwise.
func defaultMode(ds *regimes.Dataset, unitAxis, v string) regimes.ReductionMode {
	extra := 1
	for i, dim := range ds.Dims(v) {
		if dim != unitAxis {
			extra *= ds.Shape(v)[i]
		}
	}
	if extra == 1 {
		return regimes.RawScalar
	}
	return regimes.Mean
}
