package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/caramat/internal/controller"
	"github.com/shaunagostinho/caramat/internal/server"
)

var regCmd = &cobra.Command{
	Use:   "reg <n> [value]",
	Short: "Read or write a single controller register",
	Long: `Read register n, or write value to it, and print the controller's reply.

Examples:
  caramat reg 68          read Sensor D
  caramat reg 4 75.5      set the setpoint
  caramat reg 2 0         shut down`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runReg,
}

func init() {
	rootCmd.AddCommand(regCmd)
}

func runReg(cmd *cobra.Command, args []string) error {
	reg, err := strconv.Atoi(args[0])
	if err != nil || reg < 0 {
		return fmt.Errorf("invalid register %q", args[0])
	}
	var value float64
	if len(args) == 2 {
		value, err = strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid value %q", args[1])
		}
	}

	cfg := server.LoadConfig(configPath)
	if portPath != "" {
		cfg.Controller.PortPath = portPath
	}
	t, err := controller.OpenSerial(cfg.SerialConfig())
	if err != nil {
		return err
	}
	client := controller.NewClient(t)
	defer client.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		v, err := client.ReadRegister(reg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "REG %d=%s\n", reg, controller.FormatValue(v))
		return nil
	}

	ack, err := client.WriteRegister(reg, value)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, ack)
	return nil
}
