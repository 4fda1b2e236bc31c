// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Tempbus - R4DCB08 Modbus temperature module toolkit
//
// Reads and configures R4DCB08 eight-channel temperature modules over
// Modbus RTU and republishes their readings to MQTT.

package main

import (
	"os"

	"github.com/Thermoquad/tempbus/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
