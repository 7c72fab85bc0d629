package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"gnssctl/internal/gdl90"
	"gnssctl/internal/status"
)

func monitorCmd(configPath *string) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print the UDP status datagrams a running controller sends",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()

			addr, err := monitorAddr(listen, e.cfg.UDP.Dest)
			if err != nil {
				return err
			}
			conn, err := net.ListenPacket("udp", addr)
			if err != nil {
				return errors.Wrapf(err, "listen %s", addr)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			go func() {
				<-ctx.Done()
				_ = conn.Close()
			}()

			e.log.Infow("monitor listening", "listen", conn.LocalAddr().String())
			buf := make([]byte, 2048)
			for {
				n, from, err := conn.ReadFrom(buf)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return errors.Wrap(err, "udp read")
				}
				for _, line := range describeDatagram(buf[:n]) {
					cmd.Printf("%s %s\n", from, line)
				}
			}
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "UDP address to listen on (default: the port of udp.dest)")
	return cmd
}

// monitorAddr picks the listen address: the flag when set, otherwise every
// interface on the configured destination port.
func monitorAddr(listen, dest string) (string, error) {
	if listen != "" {
		return listen, nil
	}
	if dest == "" {
		return "", errors.New("monitor needs --listen or udp.dest")
	}
	_, port, err := net.SplitHostPort(dest)
	if err != nil {
		return "", errors.Wrapf(err, "udp.dest %q", dest)
	}
	return ":" + port, nil
}

// describeDatagram renders one datagram as GDL90 frame summaries or, for
// JSON output, a status summary.
func describeDatagram(b []byte) []string {
	if len(b) > 0 && b[0] == 0x7E {
		var out []string
		for _, f := range gdl90.Split(b) {
			msg, ok, err := gdl90.Unframe(f)
			switch {
			case err != nil:
				out = append(out, "gdl90 bad frame: "+err.Error())
			case !ok:
				out = append(out, fmt.Sprintf("gdl90 id=0x%02X crc mismatch", msg[0]))
			default:
				out = append(out, fmt.Sprintf("gdl90 id=0x%02X len=%d", msg[0], len(msg)))
			}
		}
		return out
	}

	var u status.Update
	if err := json.Unmarshal(b, &u); err != nil {
		return []string{fmt.Sprintf("raw %q", b)}
	}
	edges := make([]string, 0, len(u.Edges))
	for _, e := range u.Edges {
		edges = append(edges, e.String())
	}
	return []string{fmt.Sprintf("status connected=%t lock=%t power_saving=%t edges=%s",
		u.Status.Connected, u.Status.HasLock, u.Status.IsPowerSaving, strings.Join(edges, ","))}
}
