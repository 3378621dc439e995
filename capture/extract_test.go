package capture

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func captureInfo(data []byte) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     time.Unix(1700000000, 500000000),
		CaptureLength: len(data),
		Length:        len(data),
	}
}

func tcpFrame(t *testing.T) []byte {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
	}
	tcp := &layers.TCP{SrcPort: 34567, DstPort: 80, SYN: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, tcp)
}

func TestDecodeTCP(t *testing.T) {
	d := NewDecoder(false)
	data := tcpFrame(t)

	rec, err := d.Decode(data, captureInfo(data))
	require.NoError(t, err)

	assert.Equal(t, "TCP", rec.Protocol)
	assert.Equal(t, "10.0.0.1", rec.SrcIP)
	assert.Equal(t, "10.0.0.2", rec.DstIP)
	assert.Equal(t, 34567, rec.SrcPort)
	assert.Equal(t, 80, rec.DstPort)
	assert.Equal(t, len(data), rec.Length)
	assert.InDelta(t, 1700000000.5, rec.Timestamp, 0.001)
	assert.Equal(t, int64(1700000000), rec.Second())
	assert.Contains(t, rec.Summary, "TCP 10.0.0.1:34567 -> 10.0.0.2:80")
	assert.Nil(t, rec.Raw)
}

func TestDecodeUDP(t *testing.T) {
	d := NewDecoder(false)
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IP{192, 168, 1, 10}, DstIP: net.IP{8, 8, 8, 8},
	}
	udp := &layers.UDP{SrcPort: 50000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	data := serialize(t, eth, ip, udp, gopacket.Payload([]byte("query")))

	rec, err := d.Decode(data, captureInfo(data))
	require.NoError(t, err)

	assert.Equal(t, "UDP", rec.Protocol)
	assert.Equal(t, "192.168.1.10", rec.SrcIP)
	assert.Equal(t, "8.8.8.8", rec.DstIP)
	assert.Equal(t, 50000, rec.SrcPort)
	assert.Equal(t, 53, rec.DstPort)
}

func TestDecodeICMP(t *testing.T) {
	d := NewDecoder(false)
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
	}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
	data := serialize(t, eth, ip, icmp)

	rec, err := d.Decode(data, captureInfo(data))
	require.NoError(t, err)

	assert.Equal(t, "ICMP", rec.Protocol)
	assert.Zero(t, rec.SrcPort)
	assert.Zero(t, rec.DstPort)
}

func TestDecodeARP(t *testing.T) {
	d := NewDecoder(false)
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: srcMAC, SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress: make([]byte, 6), DstProtAddress: []byte{10, 0, 0, 2},
	}
	data := serialize(t, eth, arp)

	rec, err := d.Decode(data, captureInfo(data))
	require.NoError(t, err)

	assert.Equal(t, "ARP", rec.Protocol)
	assert.Equal(t, "10.0.0.1", rec.SrcIP)
	assert.Equal(t, "10.0.0.2", rec.DstIP)
	assert.Equal(t, "ARP 10.0.0.1 -> 10.0.0.2", rec.Summary)
}

func TestDecodeKeepsRawCopy(t *testing.T) {
	d := NewDecoder(true)
	data := tcpFrame(t)

	rec, err := d.Decode(data, captureInfo(data))
	require.NoError(t, err)
	require.Equal(t, data, rec.Raw)

	// The copy must not alias the capture buffer, which pcap reuses.
	data[0] ^= 0xff
	assert.NotEqual(t, data[0], rec.Raw[0])
}

func TestDecoderReuse(t *testing.T) {
	d := NewDecoder(false)

	data := tcpFrame(t)
	rec, err := d.Decode(data, captureInfo(data))
	require.NoError(t, err)
	require.Equal(t, "TCP", rec.Protocol)

	// A port-less frame decoded next must not inherit TCP state.
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4,
		SrcIP: net.IP{10, 0, 0, 3}, DstIP: net.IP{10, 0, 0, 4},
	}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0)}
	data = serialize(t, eth, ip, icmp)

	rec, err = d.Decode(data, captureInfo(data))
	require.NoError(t, err)
	assert.Equal(t, "ICMP", rec.Protocol)
	assert.Zero(t, rec.SrcPort)
	assert.Zero(t, rec.DstPort)
	assert.Equal(t, "10.0.0.3", rec.SrcIP)
}

func TestDecodeGarbageStillCounts(t *testing.T) {
	d := NewDecoder(false)
	data := []byte{0x01, 0x02, 0x03}

	rec, err := d.Decode(data, captureInfo(data))
	if err == nil {
		// Whatever partially decoded still carries capture metadata.
		assert.Equal(t, 3, rec.Length)
	}
	assert.Equal(t, 3, rec.Length)
	assert.InDelta(t, 1700000000.5, rec.Timestamp, 0.001)
}
