package capture

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/netlens/netlens/pkg/model"
)

// Decoder turns raw frames into packet records. It reuses one
// DecodingLayerParser across packets, so a Decoder must not be shared between
// goroutines.
type Decoder struct {
	parser *gopacket.DecodingLayerParser
	types  []gopacket.LayerType

	eth   layers.Ethernet
	arp   layers.ARP
	ip4   layers.IPv4
	ip6   layers.IPv6
	tcp   layers.TCP
	udp   layers.UDP
	icmp4 layers.ICMPv4
	icmp6 layers.ICMPv6

	keepRaw bool
}

// NewDecoder creates a decoder. keepRaw controls whether raw frame bytes are
// copied into each record.
func NewDecoder(keepRaw bool) *Decoder {
	d := &Decoder{keepRaw: keepRaw}
	d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&d.eth, &d.arp, &d.ip4, &d.ip6, &d.tcp, &d.udp, &d.icmp4, &d.icmp6)
	d.parser.IgnoreUnsupported = true
	return d
}

// Decode extracts a record from one captured frame. The timestamp and length
// come from capture metadata, not from the decoded layers, so even a frame
// that fails to decode still yields a countable record.
func (d *Decoder) Decode(data []byte, ci gopacket.CaptureInfo) (model.PacketRecord, error) {
	rec := model.PacketRecord{
		Timestamp: float64(ci.Timestamp.UnixNano()) / 1e9,
		Length:    ci.Length,
		Protocol:  "OTHER",
	}
	if d.keepRaw {
		rec.Raw = make([]byte, len(data))
		copy(rec.Raw, data)
	}

	d.types = d.types[:0]
	err := d.parser.DecodeLayers(data, &d.types)

	for _, typ := range d.types {
		switch typ {
		case layers.LayerTypeARP:
			rec.Protocol = "ARP"
			rec.SrcIP = ipString(d.arp.SourceProtAddress)
			rec.DstIP = ipString(d.arp.DstProtAddress)
		case layers.LayerTypeIPv4:
			rec.SrcIP = d.ip4.SrcIP.String()
			rec.DstIP = d.ip4.DstIP.String()
			rec.Protocol = d.ip4.Protocol.String()
		case layers.LayerTypeIPv6:
			rec.SrcIP = d.ip6.SrcIP.String()
			rec.DstIP = d.ip6.DstIP.String()
			rec.Protocol = d.ip6.NextHeader.String()
		case layers.LayerTypeTCP:
			rec.Protocol = "TCP"
			rec.SrcPort = int(d.tcp.SrcPort)
			rec.DstPort = int(d.tcp.DstPort)
		case layers.LayerTypeUDP:
			rec.Protocol = "UDP"
			rec.SrcPort = int(d.udp.SrcPort)
			rec.DstPort = int(d.udp.DstPort)
		case layers.LayerTypeICMPv4:
			rec.Protocol = "ICMP"
		case layers.LayerTypeICMPv6:
			rec.Protocol = "ICMPv6"
		}
	}

	// A frame the parser could not finish still counts when it produced at
	// least a link layer; otherwise report the decode error.
	if err != nil && len(d.types) == 0 {
		return rec, fmt.Errorf("decode frame: %w", err)
	}

	rec.Summary = summarize(&rec, d.types)
	return rec, nil
}

func summarize(rec *model.PacketRecord, types []gopacket.LayerType) string {
	switch rec.Protocol {
	case "TCP", "UDP":
		return fmt.Sprintf("%s %s -> %s len=%d",
			rec.Protocol,
			model.Endpoint(rec.SrcIP, rec.SrcPort),
			model.Endpoint(rec.DstIP, rec.DstPort),
			rec.Length)
	case "ARP":
		return fmt.Sprintf("ARP %s -> %s", rec.SrcIP, rec.DstIP)
	default:
		if rec.SrcIP != "" {
			return fmt.Sprintf("%s %s -> %s len=%d", rec.Protocol, rec.SrcIP, rec.DstIP, rec.Length)
		}
		return fmt.Sprintf("%s len=%d", rec.Protocol, rec.Length)
	}
}

func ipString(addr []byte) string {
	if len(addr) != 4 {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.%d", addr[0], addr[1], addr[2], addr[3])
}
