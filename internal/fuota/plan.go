// Package fuota frames a firmware image for over-the-air upgrade.
//
// A session is an init command on port 22 carrying the image size, the
// image itself as numbered port 25 blocks of at most 51 bytes, and a
// verify command. The device answers verify with a type 17 uplink listing
// the blocks it missed; those are resent followed by another verify until
// the device reports none.
package fuota

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
)

var (
	ErrEmptyImage    = errors.New("firmware image is empty")
	ErrImageTooLarge = errors.New("firmware image too large")
	ErrUnknownBlock  = errors.New("block not in plan")
)

// MaxImageSize is the largest image whose block numbers fit in 16 bits.
const MaxImageSize = (math.MaxUint16 + 1) * codec.FirmwareChunkSize

// Plan is the full downlink sequence for one image.
type Plan struct {
	Size   uint32
	Chunks []*codec.FirmwareChunk
}

// NewPlan splits image into port 25 blocks. The chunks share the image's
// backing array.
func NewPlan(image []byte) (*Plan, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	if len(image) > MaxImageSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrImageTooLarge, len(image), MaxImageSize)
	}
	p := &Plan{Size: uint32(len(image))}
	for off := 0; off < len(image); off += codec.FirmwareChunkSize {
		end := min(off+codec.FirmwareChunkSize, len(image))
		p.Chunks = append(p.Chunks, &codec.FirmwareChunk{
			Block: uint16(len(p.Chunks)),
			Data:  codec.ByteList(image[off:end]),
		})
	}
	return p, nil
}

// Init is the command that opens the upgrade session. The size parameter
// is always little-endian.
func (p *Plan) Init() *codec.CommandDownlink {
	return &codec.CommandDownlink{
		Command:    codec.CommandInitUpgradeSession,
		Parameters: binary.LittleEndian.AppendUint32(nil, p.Size),
	}
}

// Verify asks the device to report missed blocks.
func (p *Plan) Verify() *codec.CommandDownlink {
	return &codec.CommandDownlink{Command: codec.CommandVerifyUpgradeData}
}

// Downlinks returns init, every block, then verify.
func (p *Plan) Downlinks() []codec.Downlink {
	out := make([]codec.Downlink, 0, len(p.Chunks)+2)
	out = append(out, p.Init())
	for _, c := range p.Chunks {
		out = append(out, c)
	}
	return append(out, p.Verify())
}

// Resend returns the blocks status reports as missed followed by a fresh
// verify. It returns nil once the device reports nothing outstanding.
func (p *Plan) Resend(status *codec.UpgradeStatus) ([]codec.Downlink, error) {
	if p.Done(status) {
		return nil, nil
	}
	var out []codec.Downlink
	seen := make(map[uint16]bool, len(status.MissedBlocks))
	for _, b := range status.MissedBlocks {
		if seen[b] {
			continue
		}
		seen[b] = true
		if int(b) >= len(p.Chunks) {
			return nil, fmt.Errorf("%w: %d of %d", ErrUnknownBlock, b, len(p.Chunks))
		}
		out = append(out, p.Chunks[b])
	}
	return append(out, p.Verify()), nil
}

// Done reports whether status signals a complete image.
func (p *Plan) Done(status *codec.UpgradeStatus) bool {
	return status != nil && status.MissedDataFlag == 0 && status.MissedBlockCount == 0 && len(status.MissedBlocks) == 0
}

// Frames encodes a downlink sequence. The upgrade frames are little-endian
// on every firmware, so a revision in opts is overridden.
func Frames(downlinks []codec.Downlink, opts ...codec.Option) ([]codec.Frame, error) {
	opts = append(opts[:len(opts):len(opts)], codec.WithRevision(codec.RevisionV212))
	out := make([]codec.Frame, 0, len(downlinks))
	for i, d := range downlinks {
		f, err := codec.EncodeDownlink(d, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to encode downlink %d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// Manifest maps each block key, the block number as little-endian hex, to
// its chunk hex. Both carry a 0x prefix.
func (p *Plan) Manifest() map[string]string {
	out := make(map[string]string, len(p.Chunks))
	for _, c := range p.Chunks {
		out[blockKey(c.Block)] = fmt.Sprintf("0x%x", []byte(c.Data))
	}
	return out
}

// WriteBlocks writes one line per block holding the complete port 25
// payload as hex. Every line but the last ends in a comma.
func (p *Plan) WriteBlocks(w io.Writer) error {
	for i, c := range p.Chunks {
		sep := ",\n"
		if i == len(p.Chunks)-1 {
			sep = "\n"
		}
		if _, err := fmt.Fprintf(w, "%s%x%s", blockKey(c.Block)[2:], []byte(c.Data), sep); err != nil {
			return err
		}
	}
	return nil
}

func blockKey(block uint16) string {
	return fmt.Sprintf("0x%02x%02x", byte(block), byte(block>>8))
}
