// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var (
	ErrFirmwareFormat = errors.New("invalid firmware")
	ErrFirmwareRange  = errors.New("firmware out of range")
)

// FirmwareLoader returns the contents of the named firmware blob.
type FirmwareLoader func(name string) ([]byte, error)

// PHY patch opcodes; top nibble of each 32 bit word.
const (
	fwRead            = 0x0
	fwDataOr          = 0x1
	fwDataAnd         = 0x2
	fwBjmpn           = 0x3
	fwMdioChg         = 0x4
	fwClearReadCount  = 0x7
	fwWrite           = 0x8
	fwReadCountEqSkip = 0x9
	fwCompEqSkipn     = 0xa
	fwCompNeqSkipn    = 0xb
	fwWritePrevious   = 0xc
	fwSkipn           = 0xd
	fwDelayMs         = 0xe
)

const (
	fwVersionBytes = 32
	// magic u32, version, start le32, len le32, checksum u8
	fwHeaderBytes = 4 + fwVersionBytes + 4 + 4 + 1

	// Programs may spin on a PHY register; give up eventually.
	fwMaxSteps = 1 << 20
)

// Firmware is a validated PHY patch program.
type Firmware struct {
	Name    string
	Version string
	code    []uint32
}

func (f *Firmware) String() string {
	return fmt.Sprintf("%s version %s, %d words", f.Name, f.Version, len(f.code))
}

func fwOp(w uint32) uint32    { return w >> 28 }
func fwRegno(w uint32) uint32 { return w >> 16 & 0xfff }
func fwData(w uint32) uint32  { return w & 0xffff }

// ParseFirmware decodes either the headed or the raw blob format and
// checks that every branch stays inside the program.
func ParseFirmware(name string, b []byte) (f *Firmware, err error) {
	if len(b) < 4 {
		err = fmt.Errorf("%s: %w: %d bytes", name, ErrFirmwareFormat, len(b))
		return
	}
	f = &Firmware{Name: name}
	var code []byte
	if binary.LittleEndian.Uint32(b) == 0 {
		if len(b) < fwHeaderBytes {
			err = fmt.Errorf("%s: %w: short header", name, ErrFirmwareFormat)
			return
		}
		var sum uint8
		for _, c := range b {
			sum += c
		}
		if sum != 0 {
			err = fmt.Errorf("%s: %w: checksum 0x%02x", name, ErrFirmwareFormat, sum)
			return
		}
		v := b[4 : 4+fwVersionBytes-1]
		if i := bytes.IndexByte(v, 0); i >= 0 {
			v = v[:i]
		}
		f.Version = string(v)
		start := uint64(binary.LittleEndian.Uint32(b[4+fwVersionBytes:]))
		n := uint64(binary.LittleEndian.Uint32(b[4+fwVersionBytes+4:]))
		size := uint64(len(b))
		if start > size {
			err = fmt.Errorf("%s: %w: start %d > size %d", name, ErrFirmwareFormat, start, size)
			return
		}
		if n > (size-start)/4 {
			err = fmt.Errorf("%s: %w: length %d", name, ErrFirmwareFormat, n)
			return
		}
		code = b[start : start+4*n]
	} else {
		if len(b)%4 != 0 {
			err = fmt.Errorf("%s: %w: size %d", name, ErrFirmwareFormat, len(b))
			return
		}
		f.Version = name
		if len(f.Version) >= fwVersionBytes {
			f.Version = f.Version[:fwVersionBytes-1]
		}
		code = b
	}
	f.code = make([]uint32, len(code)/4)
	for i := range f.code {
		f.code[i] = binary.LittleEndian.Uint32(code[4*i:])
	}
	if err = f.validate(); err != nil {
		f = nil
	}
	return
}

func (f *Firmware) validate() error {
	size := uint32(len(f.code))
	for i, w := range f.code {
		index := uint32(i)
		regno := fwRegno(w)
		switch fwOp(w) {
		case fwRead, fwDataOr, fwDataAnd, fwMdioChg, fwClearReadCount,
			fwWrite, fwWritePrevious, fwDelayMs:
		case fwBjmpn:
			if regno > index {
				return fmt.Errorf("%s: %w: word %d jumps back %d", f.Name, ErrFirmwareRange, i, regno)
			}
		case fwReadCountEqSkip:
			if index+2 >= size {
				return fmt.Errorf("%s: %w: word %d skips past end", f.Name, ErrFirmwareRange, i)
			}
		case fwCompEqSkipn, fwCompNeqSkipn, fwSkipn:
			if index+1+regno >= size {
				return fmt.Errorf("%s: %w: word %d skips %d past end", f.Name, ErrFirmwareRange, i, regno)
			}
		default:
			return fmt.Errorf("%s: %w: word %d action 0x%08x", f.Name, ErrFirmwareFormat, i, w)
		}
	}
	return nil
}

// writePhyFirmware runs a validated program against the PHY.
// The mdio change opcode may switch the target to the MAC MCU; the
// profile's PHY access is used again when the program ends.
func (d *Dev) writePhyFirmware(f *Firmware) {
	var (
		ops            = d.profile.mdio
		predata, count uint32
		index          uint32
		steps          int
	)
	size := uint32(len(f.code))
	for index < size {
		if steps++; steps > fwMaxSteps {
			d.logf("warning: %s: firmware %s: no halt after %d steps", d, f.Name, fwMaxSteps)
			break
		}
		w := f.code[index]
		if w == 0 {
			break
		}
		data, regno := fwData(w), fwRegno(w)
		switch fwOp(w) {
		case fwRead:
			predata = ops.read(d, int(regno))
			count++
			index++
		case fwDataOr:
			predata |= data
			index++
		case fwDataAnd:
			predata &= data
			index++
		case fwBjmpn:
			index -= regno
		case fwMdioChg:
			switch data {
			case 0:
				ops = d.profile.mdio
			case 1:
				ops = mdioMacMcu{}
			}
			index++
		case fwClearReadCount:
			count = 0
			index++
		case fwWrite:
			ops.write(d, int(regno), data)
			index++
		case fwReadCountEqSkip:
			if count == data {
				index += 2
			} else {
				index++
			}
		case fwCompEqSkipn:
			if predata == data {
				index += regno
			}
			index++
		case fwCompNeqSkipn:
			if predata != data {
				index += regno
			}
			index++
		case fwWritePrevious:
			ops.write(d, int(regno), predata)
			index++
		case fwSkipn:
			index += regno + 1
		case fwDelayMs:
			d.delay(time.Duration(data) * time.Millisecond)
			index++
		default:
			// Rejected by validate.
			return
		}
	}
}

// loadFirmware fetches and checks the profile's PHY patch.
// Failures leave the device running unpatched.
func (d *Dev) loadFirmware() {
	name := d.profile.Firmware
	if name == "" || d.loader == nil || d.firmware != nil {
		return
	}
	b, err := d.loader(name)
	if err == nil {
		d.firmware, err = ParseFirmware(name, b)
	}
	if err != nil {
		d.logf("warning: %s: unable to load firmware patch %s (%v)", d, name, err)
		return
	}
	d.logf("info: %s: loaded firmware %v", d, d.firmware)
}

func (d *Dev) releaseFirmware() { d.firmware = nil }

func (d *Dev) applyFirmware() {
	if d.firmware != nil {
		d.writePhyFirmware(d.firmware)
	}
}
