// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/toolsmith/toolsmith/cmd/toolsmith"

func main() {
	cmd.Execute()
}
