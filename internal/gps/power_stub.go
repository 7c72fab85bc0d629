//go:build !linux

package gps

import "fmt"

func openLine(pin, initial int, consumer string) (Line, error) {
	return nil, fmt.Errorf("gps: gpio unsupported on this platform")
}

var openLineFn = openLine
