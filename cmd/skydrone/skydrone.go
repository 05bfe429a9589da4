/*
skydrone runs simulated drone networks
*/
package main

import "github.com/skycoin/skydrone/cmd/skydrone/commands"

func main() {
	commands.Execute()
}
