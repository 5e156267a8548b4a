package protocol

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/drivers"
	"github.com/datazip-inc/olake-scaling/pkg/statestore"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils"
	"github.com/datazip-inc/olake-scaling/utils/logger"
)

var (
	configPath   string
	statePath    string
	configFolder string
	httpAddress  string
	jobID        string
	noSave       bool

	commands = []*cobra.Command{}
	registry *drivers.Registry
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "olake-scaling",
	Short: "online table migration: parallel snapshot copy followed by change capture",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		viper.SetDefault(constants.ConfigFolder, os.TempDir())
		if !noSave {
			folder := configFolder
			if folder == "" && configPath != "" {
				folder = filepath.Dir(configPath)
			}
			if folder != "" {
				viper.Set(constants.ConfigFolder, folder)
			}
		}
		if statePath != "" {
			viper.Set(constants.StatePath, statePath)
		}
		viper.SetDefault(constants.HTTPAddress, constants.DefaultHTTPAddress)
		if httpAddress != "" {
			viper.Set(constants.HTTPAddress, httpAddress)
		}

		// logger uses CONFIG_FOLDER
		logger.Init()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		if ok := utils.IsValidSubcommand(commands, args[0]); !ok {
			return fmt.Errorf("'%s' is an invalid command. Use 'olake-scaling --help' to display usage guide", args[0])
		}
		return nil
	},
}

// CreateRootCommand wires the registry every command resolves drivers from
func CreateRootCommand(reg *drivers.Registry) *cobra.Command {
	registry = reg
	RootCmd.AddCommand(commands...)
	return RootCmd
}

// loadJob reads the job file and applies defaults
func loadJob() (*types.JobConfig, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config not passed")
	}
	job := &types.JobConfig{}
	if err := utils.UnmarshalFile(configPath, job); err != nil {
		return nil, err
	}
	job.SetDefaults()
	if err := utils.Validate(job); err != nil {
		return nil, fmt.Errorf("invalid job config[%s]: %s", configPath, err)
	}
	return job, nil
}

// openStore opens the state store; the path defaults to a location inside the
// config folder
func openStore(ctx context.Context, backend constants.StateBackend) (statestore.Store, error) {
	path := viper.GetString(constants.StatePath)
	if path == "" {
		name := constants.StateFileName
		if backend == constants.SQLiteBackend {
			name += ".db"
		}
		path = filepath.Join(viper.GetString(constants.ConfigFolder), name)
	}
	return statestore.New(ctx, backend, path)
}

// stateBackend picks the sqlite backend for a --state path ending in .db
func stateBackend() constants.StateBackend {
	if filepath.Ext(viper.GetString(constants.StatePath)) == ".db" {
		return constants.SQLiteBackend
	}
	return constants.FileBackend
}

func init() {
	commands = append(commands, syncCmd, checkCmd, progressCmd, serveCmd)
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "", "", "Job config file, json or yaml")
	RootCmd.PersistentFlags().StringVarP(&statePath, "state", "", "", "(Optional) State directory, or database file for the sqlite backend")
	RootCmd.PersistentFlags().StringVarP(&configFolder, "config-folder", "", "", "(Optional) Folder for logs and stats, defaults to the folder of --config")
	RootCmd.PersistentFlags().StringVarP(&httpAddress, "http-addr", "", "", "(Optional) Address of the control server")
	RootCmd.PersistentFlags().StringVarP(&jobID, "job-id", "", "", "Job id for progress")
	RootCmd.PersistentFlags().BoolVarP(&noSave, "no-save", "", false, "(Optional) Skip writing log and stats files next to the config")
	// Disable Cobra CLI's built-in usage and error handling
	RootCmd.SilenceUsage = true
	RootCmd.SilenceErrors = true
}
