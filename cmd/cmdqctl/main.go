// Command cmdqctl drives the cmdq simulation harness for manual exercise
// of rotation, preemption and syncpoint behaviour.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ringworks/cmdq"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cmdqctl",
	Short: "Exercise the cmdq command queue outside of a real coprocessor",
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a queue configuration file (defaults built in if omitted)")
	rootCmd.AddCommand(runCmd, benchCmd, inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (cmdq.Config, error) {
	if configPath == "" {
		return cmdq.DefaultConfig(), nil
	}
	return cmdq.LoadConfig(configPath)
}

var noops int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Write a stream of NOOPs through the simulation harness and report how many the model consumed",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, _ := zap.NewDevelopment()
		defer logger.Sync()

		q, err := cmdq.New(cfg, cmdq.WithLogger(logger))
		if err != nil {
			return err
		}
		h := cmdq.NewHarness(q, 256)

		var executed int
		h.OnNoop(func() { executed++ })

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err = h.Run(ctx, func(q *cmdq.Queue) error {
			for i := 0; i < noops; i++ {
				if err := q.Noop(); err != nil {
					return err
				}
			}
			return q.Wait()
		})
		if err != nil {
			return err
		}

		fmt.Printf("wrote %d noops, consumer model executed %d\n", noops, executed)
		stats := q.Stats()
		fmt.Printf("rotations: low=%d high=%d\n", stats.LowRotations, stats.HighRotations)
		return nil
	},
}

var benchIterations int

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure ring rotation throughput for a fixed number of NOOPs",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		q, err := cmdq.New(cfg)
		if err != nil {
			return err
		}
		h := cmdq.NewHarness(q, 1024)

		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err = h.Run(ctx, func(q *cmdq.Queue) error {
			for i := 0; i < benchIterations; i++ {
				if err := q.Noop(); err != nil {
					return err
				}
			}
			return q.Wait()
		})
		if err != nil {
			return err
		}

		elapsed := time.Since(start)
		fmt.Printf("%d noops in %s (%.0f/s)\n", benchIterations, elapsed, float64(benchIterations)/elapsed.Seconds())
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the effective configuration",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("%+v\n", cfg)
		return nil
	},
}

func init() {
	runCmd.Flags().IntVarP(&noops, "noops", "n", 10000, "Number of NOOP commands to write")
	benchCmd.Flags().IntVarP(&benchIterations, "iterations", "n", 1_000_000, "Number of NOOP commands to write")
}
