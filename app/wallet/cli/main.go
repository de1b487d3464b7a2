// This program provides a command line wallet for the development node.
package main

import "github.com/ardanlabs/ethtransfer/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
