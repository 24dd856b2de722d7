// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// kspeth - KSPEthernetIO telemetry and control client
//
// Discovers a KSPEthernetIO host on the local network, streams vessel
// telemetry from it and sends control packets back.

package main

import (
	"os"

	"github.com/kspethernetio/kspeth/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
