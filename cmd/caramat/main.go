package main

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var (
	configPath string
	portPath   string
)

var rootCmd = &cobra.Command{
	Use:   "caramat",
	Short: "Temperature controller supervisor",
	Long: `caramat drives a serial temperature controller: it polls the sensors,
runs the device autotune, executes thermal cycling runs and stores every
reading in the configured log sink.

Commands:
  serve   run the poll engine with an HTTP/WebSocket API
  reg     read or write a single register`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/caramat/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&portPath, "port", "p", "", "Override controller serial port")
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
