/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package main

import (
	"fmt"

	server "github.com/caffeinedoom/neobotnet/pkg/server"
)

func main() {
	s, err := server.NewServer()
	if err != nil {
		fmt.Println("failed to new server, err: ", err.Error())
		return
	}
	s.Start()
}
