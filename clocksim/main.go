// Command clocksim builds a clocked model from a topology file and runs it.
package main

import "github.com/sarchlab/clocksim/clocksim/cmd"

func main() {
	cmd.Execute()
}
