// Package main es el punto de entrada de printerd, el servicio que expone la
// capa de orquestación de impresión vía WebSocket.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
