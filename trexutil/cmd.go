/*
Copyright © 2017 the TREX authors.
This file is part of TREX.

TREX is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

TREX is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with TREX.  If not, see <http://www.gnu.org/licenses/>.
*/

package trexutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/WatershedModels/TREX-sub005"
	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds the viper settings tree plus the cobra command tree built
// around it: one struct that owns both "what the user configured" and
// "what commands exist to act on it".
type Cfg struct {
	*viper.Viper

	// inputFiles holds the names of the configuration options that are
	// input files.
	inputFiles []string

	Root, versionCmd, runCmd, validateCmd *cobra.Command
}

// InputFiles returns the names of the configuration options that are
// input files.
func (cfg *Cfg) InputFiles() []string { return cfg.inputFiles }

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
	isInputFile            bool
}

// InitializeConfig builds the trex command tree: a root command with
// version, validate, and run subcommands, each reading its settings from
// cfg.Viper (populated from a TOML file via --config, overridable by
// flags and TREX_-prefixed environment variables).
func InitializeConfig() *Cfg {
	cfg := &Cfg{Viper: viper.New()}

	cfg.Root = &cobra.Command{
		Use:   "trex",
		Short: "A watershed hydrology, solids, and chemical transport simulator.",
		Long: `trex simulates overland diffusive-wave flow and dendritic channel-network
routing, multi-class suspended-solids transport, and first-order chemical
transport and transformation across a raster watershed domain.

Configuration can be changed by using a configuration file (via --config),
by command-line flags, or by setting environment variables in the format
'TREX_var'.`,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setConfig(cfg)
		},
	}

	cfg.versionCmd = &cobra.Command{
		Use:               "version",
		Short:             "Print the version number",
		DisableAutoGenTag: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("trex v%s\n", trex.Version)
		},
	}

	cfg.validateCmd = &cobra.Command{
		Use:               "validate",
		Short:             "Parse the configuration and input files without running the simulation.",
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := buildSimulation(cfg)
			if err != nil {
				return err
			}
			cmd.Println("configuration and input files are valid")
			return nil
		},
	}

	cfg.runCmd = &cobra.Command{
		Use:               "run",
		Short:             "Run the simulation to completion.",
		Long:              "run parses the configuration and input files, then drives the simulation from t=0 to TEnd.",
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sim, err := buildSimulation(cfg)
			if err != nil {
				return err
			}
			if err := sim.Run(); err != nil {
				return err
			}
			reportPath := checkOutputFile(cfg.GetString("MassBalanceFile"), "massbalance.csv")
			f, err := os.Create(reportPath)
			if err != nil {
				return fmt.Errorf("trex: opening mass-balance report: %v", err)
			}
			defer f.Close()
			if err := sim.Balance.WriteReport(f, sim.Grid, sim.Network, &sim.Solids, &sim.Chem); err != nil {
				return fmt.Errorf("trex: writing mass-balance report: %v", err)
			}
			cmd.Printf("simulation complete: water mass-balance error %.4g%%\n", sim.Balance.WaterError())
			return nil
		},
	}

	cfg.Root.AddCommand(cfg.versionCmd, cfg.validateCmd, cfg.runCmd)

	// Options are the configuration values settable by flag as well as by
	// config file or environment variable.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
		isInputFile            bool
	}{
		{
			name:        "config",
			usage:       `config specifies the TOML configuration file location.`,
			defaultVal:  "",
			isInputFile: true,
			flagsets:    []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name:        "grid",
			usage:       `grid specifies the ESRI-ASCII elevation grid file location.`,
			defaultVal:  "",
			isInputFile: true,
			flagsets:    []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name:        "links",
			usage:       `links specifies the channel link/node property file location.`,
			defaultVal:  "",
			isInputFile: true,
			flagsets:    []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name:       "LogLevel",
			usage:      `LogLevel sets the logging verbosity: debug, info, warn, or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name:       "MassBalanceFile",
			usage:      `MassBalanceFile is the location where the cell/node-resolved mass-balance report should be written.`,
			defaultVal: "massbalance.csv",
			flagsets:   []*pflag.FlagSet{cfg.runCmd.Flags()},
		},
	}

	cfg.SetEnvPrefix("TREX")
	cfg.AutomaticEnv()

	for _, option := range options {
		if option.isInputFile {
			cfg.inputFiles = append(cfg.inputFiles, option.name)
		}
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, v, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, v, option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, v, option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, v, option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, v, option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, v, option.usage)
				}
			default:
				panic(fmt.Errorf("trexutil: invalid option type: %T", option.defaultVal))
			}
			cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
	return cfg
}

// setConfig loads the TOML file named by the config option, if any, into
// cfg.Viper.
func setConfig(cfg *Cfg) error {
	if cfgpath := cfg.GetString("config"); cfgpath != "" {
		cfg.SetConfigFile(cfgpath)
		if err := cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("trex: reading config file %q: %v", cfgpath, err)
		}
	}
	return nil
}

// buildSimulation parses the grid file, link/node file (if channel routing
// is enabled), and TOML config into a ready-to-run *trex.Simulation. This
// is the one place cmd.go touches the domain engine's construction,
// keeping the ambient CLI/config layer and the physics engine on either
// side of trex.NewSimulationFromConfig.
func buildSimulation(cfg *Cfg) (*trex.Simulation, error) {
	gridFile := cfg.GetString("grid")
	if gridFile == "" {
		return nil, fmt.Errorf("trex: --grid is required")
	}
	gridIO := trex.NewGridIO()
	gf, err := os.Open(gridFile)
	if err != nil {
		return nil, fmt.Errorf("trex: opening grid file: %v", err)
	}
	defer gf.Close()
	header, values, err := gridIO.ReadGrid(gf)
	if err != nil {
		return nil, fmt.Errorf("trex: parsing grid file: %v", err)
	}

	rconf, err := RunConfig(cfg.Viper)
	if err != nil {
		return nil, err
	}

	grid := trex.NewGrid(header.NRows, header.NCols, header.CellSize)
	for row := 0; row < header.NRows; row++ {
		for col := 0; col < header.NCols; col++ {
			c := grid.At(row, col)
			c.Row, c.Col = row, col
			c.Elevation = values[row][col]
			if values[row][col] != header.NoDataValue {
				c.Mask = trex.Overland
			}
		}
	}
	rconf.Grid = grid

	if rconf.ChnOpt == trex.ChnEnabled {
		linkFile := cfg.GetString("links")
		if linkFile == "" {
			return nil, fmt.Errorf("trex: --links is required when ChnOpt is enabled")
		}
		linkIO := trex.NewLinkIO()
		lf, err := os.Open(linkFile)
		if err != nil {
			return nil, fmt.Errorf("trex: opening link file: %v", err)
		}
		defer lf.Close()
		net, err := linkIO.ReadLinks(lf)
		if err != nil {
			return nil, fmt.Errorf("trex: parsing link file: %v", err)
		}
		rconf.Network = net
	}

	sim, err := trex.NewSimulationFromConfig(rconf)
	if err != nil {
		return nil, err
	}
	sim.Log.SetLevel(logLevel(cfg.GetString("LogLevel")))
	return sim, nil
}

func logLevel(s string) logrus.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
