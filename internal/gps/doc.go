// Package gps owns a serial-attached GNSS receiver: it opens the port,
// drives the power pins, identifies the chipset with command/acknowledgement
// handshakes, and duty-cycles the receiver between acquisitions.
//
// A Controller is driven by calling Tick (or Run). It learns how long the
// receiver takes to lock and wakes it early enough that the fix lands on
// schedule.
package gps
