package vision

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ReadPCAP iterates the UDP payloads of a capture file, handing each
// datagram destined for port (0 matches any port) to fn together with its
// capture timestamp. Both classic pcap (tcpdump) and pcapng (Wireshark)
// files are accepted. Returns the number of datagrams delivered.
func ReadPCAP(path string, port int, fn func(payload []byte, ts time.Time) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	var src *gopacket.PacketSource
	r, err := pcapgo.NewReader(f)
	if err != nil {
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return 0, fmt.Errorf("rewind capture %s: %w", path, serr)
		}
		ng, ngErr := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
		if ngErr != nil {
			return 0, fmt.Errorf("open capture %s: not pcap (%v), not pcapng (%v)", path, err, ngErr)
		}
		src = gopacket.NewPacketSource(ng, ng.LinkType())
	} else {
		src = gopacket.NewPacketSource(r, r.LinkType())
	}

	count := 0
	for packet := range src.Packets() {
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			continue
		}
		if port != 0 && int(udp.DstPort) != port {
			continue
		}
		if len(udp.Payload) == 0 {
			continue
		}
		count++
		if err := fn(udp.Payload, packet.Metadata().Timestamp); err != nil {
			return count, err
		}
	}
	return count, nil
}
