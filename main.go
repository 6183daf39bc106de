// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/invowk/upkeep/cmd/upkeep"

func main() {
	cmd.Execute()
}
