// Command dpctl is a manual-test exerciser for the registry and a dummy
// datapath, in the spirit of hkwi/gopenflow's ofp4sw/ofctl and
// ofp4sw/ofmon command trees. It is not a management tool: it never
// talks to a running process over a wire protocol, and each subcommand
// builds its own in-process registry, datapath, and ports from scratch.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/packetdp/dp/action"
	"github.com/packetdp/dp/dp"
	"github.com/packetdp/dp/dperr"
	"github.com/packetdp/dp/flowkey"
	"github.com/packetdp/dp/netdev"
)

// scenario builds a two-port dummy datapath with one installed flow
// (port 1 -> port 2, VLAN-tagged) and a handful of injected frames, so
// every subcommand has something non-trivial to show.
type scenario struct {
	reg    *dp.Registry
	handle *dp.Handle
	dpath  *dp.Datapath
	in     *netdev.Dummy
	out    *netdev.Dummy
}

func buildScenario(name string) (*scenario, error) {
	reg := dp.NewRegistry()
	h, err := reg.Open(name, "dummy", true, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	d := h.Datapath()

	in := netdev.NewDummy("eth0")
	out := netdev.NewDummy("eth1")
	if _, err := d.AddPort("eth0", 1, "dummy", in); err != nil {
		return nil, fmt.Errorf("add eth0: %w", err)
	}
	if _, err := d.AddPort("eth1", 2, "dummy", out); err != nil {
		return nil, fmt.Errorf("add eth1: %w", err)
	}

	frame := ethernetFrame(1, 9)
	key, err := flowkey.Extract(frame, 1)
	if err != nil {
		return nil, fmt.Errorf("extract key: %w", err)
	}

	var b action.Builder
	b.PushVLAN(0x0064).Output(2)
	if err := d.PutFlow(key, b.Bytes()); err != nil {
		return nil, fmt.Errorf("put flow: %w", err)
	}

	in.Inject(frame)
	in.Inject(ethernetFrame(1, 250)) // misses: different source, no matching flow
	d.Run()
	d.Run()

	return &scenario{reg: reg, handle: h, dpath: d, in: in, out: out}, nil
}

func ethernetFrame(inPort uint32, srcLow byte) []byte {
	frame := make([]byte, 14+20+20)
	copy(frame[0:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	copy(frame[6:12], []byte{0x02, 0, 0, 0, 0, srcLow})
	frame[12], frame[13] = 0x08, 0x00
	ip := frame[14:34]
	ip[0] = 0x45
	ip[9] = 6
	copy(ip[12:16], []byte{10, 0, 0, 1})
	copy(ip[16:20], []byte{10, 0, 0, byte(srcLow)})
	return frame
}

func main() {
	var dpName string

	root := &cobra.Command{
		Use:   "dpctl",
		Short: "Exercise a dummy datapath and its registry for manual testing",
	}
	root.PersistentFlags().StringVar(&dpName, "name", "br0", "name of the scenario datapath to build")

	root.AddCommand(
		cmdCreate(&dpName),
		cmdPortList(&dpName),
		cmdDumpFlows(&dpName),
		cmdStats(&dpName),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func cmdCreate(name *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Build the scenario datapath and confirm it registers",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildScenario(*name)
			if err != nil {
				return err
			}
			defer s.handle.Close()
			fmt.Printf("datapath %q open, registry holds: %v\n", *name, s.reg.Enumerate())
			return nil
		},
	}
}

func cmdPortList(name *string) *cobra.Command {
	return &cobra.Command{
		Use:   "port-list",
		Short: "Dump the scenario datapath's port table",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildScenario(*name)
			if err != nil {
				return err
			}
			defer s.handle.Close()
			for _, p := range s.dpath.DumpPorts() {
				fmt.Printf("%-4d %-8s %s\n", p.Number, p.Type, p.Device.Name())
			}
			return nil
		},
	}
}

func cmdDumpFlows(name *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dump-flows",
		Short: "Dump the scenario datapath's flow table",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildScenario(*name)
			if err != nil {
				return err
			}
			defer s.handle.Close()

			var cur dp.Cursor
			for {
				entries, next, err := s.dpath.DumpFlows(cur, 16)
				if err != nil && !errors.Is(err, dperr.EndOfData) {
					return err
				}
				for _, e := range entries {
					stats := e.Stats()
					fmt.Printf("in_port=%d eth_src=%x packets=%d bytes=%d\n",
						e.Key.InPort, e.Key.EthSrc, stats.PacketCount, stats.ByteCount)
				}
				if err != nil || len(entries) == 0 {
					break
				}
				cur = next
			}
			return nil
		},
	}
}

func cmdStats(name *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the scenario datapath's cumulative counters and pending upcalls",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildScenario(*name)
			if err != nil {
				return err
			}
			defer s.handle.Close()

			st := s.dpath.Stats()
			fmt.Printf("hits=%d misses=%d lost=%d rx_packets=%d rx_bytes=%d\n",
				st.Hits, st.Misses, st.Lost, st.RxPackets, st.RxBytes)

			for {
				u, err := s.dpath.Recv()
				if err != nil {
					break
				}
				fmt.Printf("upcall kind=%d in_port=%d\n", u.Kind, u.Key.InPort)
			}
			return nil
		},
	}
}
