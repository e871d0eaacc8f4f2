// Package codec converts AirVibe application payloads to structured records
// and back.
//
// Uplinks arrive on fPort 8 and are tagged by their first byte:
//
//	1  waveform data segment        5  waveform data, final segment
//	2  overall telemetry            7  alarm telemetry
//	3  waveform information         17 firmware upgrade status
//	4  configuration
//
// Downlinks are addressed by port: 20 acknowledgment, 21 missing segments,
// 22 command, 25 firmware chunk, 30 configuration, 31 alarm thresholds.
//
// All multi-byte fields are little-endian in the v2.1.2 layout. Earlier field
// firmware emits the same offsets in big-endian order; callers that talk to
// such devices select RevisionLegacyBE explicitly with WithRevision. The codec
// never guesses the revision from the payload.
//
// Decoding never fails on an unrecognised enum code: the raw value is kept
// and String reports "unknown". Structural problems (unsupported port or
// type, short buffer) are returned as errors and no record is produced.
// Recoverable oddities such as an invalid axis mask are attached to the
// result as warnings.
package codec
