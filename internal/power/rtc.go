package power

import (
	"encoding/binary"
	"hash/crc32"
)

// rtcMagic marks a valid persisted region (spec.md §6 "Persisted RTC layout").
const rtcMagic = 0x504F5752

const rtcLayoutSize = 24

// RTCState is the small persistent record that survives deep sleep.
type RTCState struct {
	WakeupCount        uint32
	TotalSleepMs       uint32
	LastRequestedState State
	PendingNfcWakeup   bool
	RemainingSleepMs   uint32
}

// encode serialises s into the exact byte layout spec.md §6 documents,
// including the trailing CRC-32 IEEE 802.3 checksum over bytes [0:20).
func (s RTCState) encode() [rtcLayoutSize]byte {
	var buf [rtcLayoutSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], rtcMagic)
	binary.LittleEndian.PutUint32(buf[4:8], s.WakeupCount)
	binary.LittleEndian.PutUint32(buf[8:12], s.TotalSleepMs)
	buf[12] = byte(s.LastRequestedState)
	if s.PendingNfcWakeup {
		buf[13] = 1
	}
	// bytes 14-15 reserved, left zero
	binary.LittleEndian.PutUint32(buf[16:20], s.RemainingSleepMs)
	crc := crc32.ChecksumIEEE(buf[0:20])
	binary.LittleEndian.PutUint32(buf[20:24], crc)
	return buf
}

// decodeRTCState validates the magic and CRC before trusting the region; a
// failed check means "treat as first boot" (spec.md §4.6).
func decodeRTCState(buf []byte) (RTCState, bool) {
	if len(buf) < rtcLayoutSize {
		return RTCState{}, false
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != rtcMagic {
		return RTCState{}, false
	}
	crc := binary.LittleEndian.Uint32(buf[20:24])
	if crc32.ChecksumIEEE(buf[0:20]) != crc {
		return RTCState{}, false
	}
	return RTCState{
		WakeupCount:        binary.LittleEndian.Uint32(buf[4:8]),
		TotalSleepMs:       binary.LittleEndian.Uint32(buf[8:12]),
		LastRequestedState: State(buf[12]),
		PendingNfcWakeup:   buf[13] != 0,
		RemainingSleepMs:   binary.LittleEndian.Uint32(buf[16:20]),
	}, true
}

// RTCStore is the narrow persistence contract PowerManager needs from the
// platform (a fixed-size byte region that survives deep sleep).
type RTCStore interface {
	ReadRTC() ([]byte, error)
	WriteRTC(data []byte) error
}
