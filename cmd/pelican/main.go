// Command pelican is a minimal query runner for the pelican client
// library: it connects with a Key=Value;... connection string and executes
// statements, printing rows tab-separated.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pelicandb/pelican"
	"github.com/pelicandb/pelican/log/zerologadapter"
	"github.com/pelicandb/pelican/pelconn"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pelican",
		Short:         "PostgreSQL query runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("connstring", "c", "", "connection string (Key=Value;... form)")
	root.PersistentFlags().Bool("verbose", false, "log protocol activity to stderr")

	viper.SetEnvPrefix("PELICAN")
	viper.AutomaticEnv()
	viper.BindPFlag("connstring", root.PersistentFlags().Lookup("connstring"))
	viper.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))

	root.AddCommand(newExecCmd(), newPingCmd())
	return root
}

func parseFlags() (*pelconn.Config, error) {
	connString := viper.GetString("connstring")
	if connString == "" {
		return nil, fmt.Errorf("no connection string: pass --connstring or set PELICAN_CONNSTRING")
	}
	config, err := pelconn.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	if viper.GetBool("verbose") {
		zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
		config.Logger = zerologadapter.NewLogger(zl)
		config.LogLevel = pelconn.LogLevelDebug
	}
	return config, nil
}

func newExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <sql> [args...]",
		Short: "Run one statement and print its rows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := parseFlags()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			conn, err := pelican.ConnectConfig(ctx, config)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			params := make([]any, len(args)-1)
			for i, a := range args[1:] {
				params[i] = a
			}

			rows, err := conn.Query(ctx, args[0], params...)
			if err != nil {
				return err
			}
			defer rows.Close()

			for {
				for rows.Next() {
					values := make([]string, len(rows.FieldDescriptions()))
					for i := range values {
						v, err := rows.Get(i)
						if err != nil {
							return err
						}
						if v == nil {
							values[i] = "\\N"
						} else {
							values[i] = fmt.Sprint(v)
						}
					}
					fmt.Println(joinTab(values))
				}
				if !rows.NextResultSet() {
					break
				}
			}
			return rows.Close()
		},
	}
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect and report the server version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := parseFlags()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			conn, err := pelican.ConnectConfig(ctx, config)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			version, err := conn.Connector().ServerVersion()
			if err != nil {
				fmt.Printf("connected (pid %d), version unknown: %v\n", conn.PID(), err)
				return nil
			}
			fmt.Printf("connected (pid %d), server version %s\n", conn.PID(), version)
			return nil
		},
	}
}

func joinTab(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += "\t"
		}
		out += v
	}
	return out
}
