// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package r8169d

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/platinasystems/r8169/vnet/devices/ethernet/r8169"
	"golang.org/x/sys/unix"
)

// The tap device puts a virtio_net_hdr ahead of every frame.
const vnetHdrLen = 10

var (
	errShortFrame   = errors.New("short frame")
	errNoTransport  = errors.New("no tcp or udp header")
	errGsoType      = errors.New("unsupported segmentation type")
	errChecksumSpan = errors.New("checksum outside frame")
)

type vnetHdr struct {
	flags      uint8
	gsoType    uint8
	hdrLen     uint16
	gsoSize    uint16
	csumStart  uint16
	csumOffset uint16
}

func (h *vnetHdr) decode(b []byte) error {
	if len(b) < vnetHdrLen {
		return errShortFrame
	}
	h.flags = b[0]
	h.gsoType = b[1]
	h.hdrLen = binary.NativeEndian.Uint16(b[2:])
	h.gsoSize = binary.NativeEndian.Uint16(b[4:])
	h.csumStart = binary.NativeEndian.Uint16(b[6:])
	h.csumOffset = binary.NativeEndian.Uint16(b[8:])
	return nil
}

func (h *vnetHdr) encode(b []byte) {
	b[0] = h.flags
	b[1] = h.gsoType
	binary.NativeEndian.PutUint16(b[2:], h.hdrLen)
	binary.NativeEndian.PutUint16(b[4:], h.gsoSize)
	binary.NativeEndian.PutUint16(b[6:], h.csumStart)
	binary.NativeEndian.PutUint16(b[8:], h.csumOffset)
}

func (h *vnetHdr) String() string {
	return fmt.Sprintf("flags 0x%x gso %d/%d hdr %d csum %d+%d",
		h.flags, h.gsoType, h.gsoSize, h.hdrLen, h.csumStart, h.csumOffset)
}

// frame is one packet read from the tap device on its way to the
// transmit ring.
type frame struct {
	data []byte
	// Headers and payload go out as separate fragments when non-zero.
	split   int
	offload r8169.Offload
	vlan    uint16
	hasVlan bool
	free    func()
}

func (f *frame) Frags() [][]byte {
	if f.split > 0 && f.split < len(f.data) {
		return [][]byte{f.data[:f.split], f.data[f.split:]}
	}
	return [][]byte{f.data}
}

func (f *frame) Len() int                       { return len(f.data) }
func (f *frame) Offload() r8169.Offload         { return f.offload }
func (f *frame) VlanTag() (tag uint16, ok bool) { return f.vlan, f.hasVlan }

func (f *frame) ChecksumSoftware() error {
	if err := checksum(f.data); err != nil {
		return err
	}
	f.offload.Csum = false
	return nil
}

func (f *frame) Free() {
	if f.free != nil {
		f.free()
		f.free = nil
	}
}

// parser decodes the headers the offload engine cares about.  It is not
// safe for concurrent use.
type parser struct {
	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	dlp     *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func newParser() *parser {
	p := new(parser)
	p.dlp = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&p.eth, &p.dot1q, &p.ip4, &p.ip6, &p.tcp, &p.udp)
	p.dlp.IgnoreUnsupported = true
	return p
}

// offset of l within b; decoded layers slice b in place.
func offset(b, l []byte) int { return cap(b) - cap(l) }

// stripVlan moves an 802.1Q tag out of the frame.
func stripVlan(b []byte) (rest []byte, tci uint16, ok bool) {
	if len(b) < 18 || layers.EthernetType(binary.BigEndian.Uint16(b[12:])) != layers.EthernetTypeDot1Q {
		return b, 0, false
	}
	tci = binary.BigEndian.Uint16(b[14:])
	copy(b[4:16], b[:12])
	return b[4:], tci, true
}

// classify fills in f's offload request from the vnet header and the
// frame's own headers.  With vlan set an 802.1Q tag is left for the
// hardware to insert.
func (p *parser) classify(f *frame, h *vnetHdr, vlan bool) error {
	if len(f.data) < 14 {
		return errShortFrame
	}
	csumStart := int(h.csumStart)
	if vlan {
		if f.data, f.vlan, f.hasVlan = stripVlan(f.data); f.hasVlan {
			csumStart -= 4
		}
	}
	if err := p.dlp.DecodeLayers(f.data, &p.decoded); err != nil {
		return err
	}

	o := r8169.Offload{NetworkOffset: -1}
	hdrEnd := 0
	for _, t := range p.decoded {
		switch t {
		case layers.LayerTypeEthernet:
			o.NetworkOffset = offset(f.data, p.eth.Payload)
		case layers.LayerTypeDot1Q:
			o.NetworkOffset = offset(f.data, p.dot1q.Payload)
		case layers.LayerTypeIPv4:
			o.TransportOffset = offset(f.data, p.ip4.Payload)
		case layers.LayerTypeIPv6:
			o.IPv6 = true
			o.TransportOffset = offset(f.data, p.ip6.Payload)
		case layers.LayerTypeTCP:
			o.L4 = r8169.L4TCP
			hdrEnd = offset(f.data, p.tcp.Payload)
		case layers.LayerTypeUDP:
			o.L4 = r8169.L4UDP
			hdrEnd = offset(f.data, p.udp.Payload)
		}
	}

	if h.flags&unix.VIRTIO_NET_HDR_F_NEEDS_CSUM != 0 {
		if csumStart < 0 || csumStart+int(h.csumOffset)+2 > len(f.data) {
			return errChecksumSpan
		}
		o.Csum = true
		// Extension headers stop the parser short of the transport.
		if o.L4 == r8169.L4Other {
			switch h.csumOffset {
			case 16:
				o.L4 = r8169.L4TCP
			case 6:
				o.L4 = r8169.L4UDP
			}
		}
		o.TransportOffset = csumStart
	}

	switch h.gsoType &^ unix.VIRTIO_NET_HDR_GSO_ECN {
	case unix.VIRTIO_NET_HDR_GSO_NONE:
	case unix.VIRTIO_NET_HDR_GSO_TCPV6:
		o.IPv6 = true
		fallthrough
	case unix.VIRTIO_NET_HDR_GSO_TCPV4:
		if o.L4 != r8169.L4TCP {
			return errNoTransport
		}
		o.MSS = h.gsoSize
	default:
		return fmt.Errorf("%w: %d", errGsoType, h.gsoType)
	}

	f.offload = o
	if hdrEnd > 0 && hdrEnd < len(f.data) {
		f.split = hdrEnd
	}
	return nil
}

// checksum fills in the TCP or UDP checksum of an ethernet frame.
func checksum(b []byte) error {
	p := newParser()
	if err := p.dlp.DecodeLayers(b, &p.decoded); err != nil {
		return err
	}
	var (
		nl gopacket.NetworkLayer
		l4 interface {
			gopacket.SerializableLayer
			SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
		}
		contents, payload []byte
		at                int
	)
	for _, t := range p.decoded {
		switch t {
		case layers.LayerTypeIPv4:
			nl = &p.ip4
		case layers.LayerTypeIPv6:
			nl = &p.ip6
		case layers.LayerTypeTCP:
			l4, contents, payload, at = &p.tcp, p.tcp.Contents, p.tcp.Payload, 16
		case layers.LayerTypeUDP:
			l4, contents, payload, at = &p.udp, p.udp.Contents, p.udp.Payload, 6
		}
	}
	if l4 == nil || nl == nil {
		return errNoTransport
	}
	if err := l4.SetNetworkLayerForChecksum(nl); err != nil {
		return err
	}
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{ComputeChecksums: true},
		l4, gopacket.Payload(payload))
	if err != nil {
		return err
	}
	s := buf.Bytes()
	if len(s) != len(contents)+len(payload) {
		return fmt.Errorf("re-encoded transport header is %d bytes, want %d",
			len(s)-len(payload), len(contents))
	}
	sum := binary.BigEndian.Uint16(s[at:])
	// A zero UDP checksum means none was sent.
	if at == 6 && sum == 0 {
		sum = 0xffff
	}
	binary.BigEndian.PutUint16(b[offset(b, contents)+at:], sum)
	return nil
}

// rxBuffer lays out a received frame for the tap device, putting back
// the tag the hardware stripped.
func rxBuffer(fr *r8169.RxFrame) []byte {
	n := vnetHdrLen + len(fr.Data)
	tagged := fr.HasVlan && len(fr.Data) >= 12
	if tagged {
		n += 4
	}
	b := make([]byte, n)
	var h vnetHdr
	if fr.CsumOK {
		h.flags = unix.VIRTIO_NET_HDR_F_DATA_VALID
	}
	h.encode(b)
	d := b[vnetHdrLen:]
	if tagged {
		copy(d, fr.Data[:12])
		binary.BigEndian.PutUint16(d[12:], uint16(layers.EthernetTypeDot1Q))
		binary.BigEndian.PutUint16(d[14:], fr.Vlan)
		copy(d[16:], fr.Data[12:])
	} else {
		copy(d, fr.Data)
	}
	return b
}
