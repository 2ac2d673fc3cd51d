// deliveryctl is the ops CLI for the gallery delivery service. It covers the
// manual recovery paths the service itself does not automate: reconciling
// archive generating flags that a crashed worker left behind, and inspecting
// an owner's delivery status from a terminal.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
