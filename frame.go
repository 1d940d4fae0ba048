package main

import "math"

const (
	CmdTempo = 0x20
	SOF0     = 0xAA
	SOF1     = 0x55

	FlagKnown     = 1 << 0 // tempo determined
	FlagConnected = 1 << 1 // a device is being shown

	maxTempoX10 = math.MaxUint16
)

// TempoFrame is what the serial display shows: one device's tempo in tenths
// of a BPM.
type TempoFrame struct {
	TempoX10 uint16
	Flags    byte
	Seq      byte
}

// NewTempoFrame rounds bpm to a tenth and clamps it to the wire range.
func NewTempoFrame(bpm float64, known bool, seq byte) TempoFrame {
	f := TempoFrame{Seq: seq, Flags: FlagConnected}
	if !known {
		return f
	}
	f.Flags |= FlagKnown
	v := math.Round(bpm * 10)
	switch {
	case v < 0 || math.IsNaN(v):
		v = 0
	case v > maxTempoX10:
		v = maxTempoX10
	}
	f.TempoX10 = uint16(v)
	return f
}

// IdleFrame is sent when no device is selected.
func IdleFrame(seq byte) TempoFrame {
	return TempoFrame{Seq: seq}
}

// Encode builds the on-wire representation:
//
//	[SOF0][SOF1][LEN][CMD][tempo hi][tempo lo][FLAGS][SEQ][CKS]
func (f *TempoFrame) Encode() []byte {
	payload := []byte{byte(f.TempoX10 >> 8), byte(f.TempoX10), f.Flags, f.Seq}

	length := byte(len(payload) + 1) // +1 for CMD byte
	cks := length ^ CmdTempo
	for _, b := range payload {
		cks ^= b
	}

	out := []byte{SOF0, SOF1, length, CmdTempo}
	out = append(out, payload...)
	out = append(out, cks)
	return out
}
