// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/kaihere14/novadrive/cmd"
)

func main() {
	cmd.Execute()
}
